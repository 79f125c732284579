package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"encoretalks/internal/availability"
)

var (
	ErrNotFound = errors.New("booking not found")
	// ErrSlotTaken means the slot was lost between the advisory availability
	// check and the serialized insert.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrStateConflict means the booking's persisted status no longer matched
	// the expected one at the moment of update.
	ErrStateConflict = errors.New("booking state changed concurrently")

	QueryTimeoutDuration = time.Second * 5
)

// blockingStatuses are the statuses that hold an expert's calendar slot. A
// requested booking holds its slot until it is confirmed or cancelled, so at
// most one live booking can ever claim an interval.
const blockingStatuses = `'requested', 'confirmed', 'in_progress'`

type Store interface {
	CreateIfAvailable(ctx context.Context, booking *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Transition(ctx context.Context, id uuid.UUID, expected, next Status, fields TransitionFields) (*Booking, error)
	CalendarIntervals(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]availability.Interval, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, filter Filter) ([]Booking, error)
	ListByExpert(ctx context.Context, expertID uuid.UUID, filter Filter) ([]Booking, error)
	EarningsForExpert(ctx context.Context, expertID uuid.UUID) (Earnings, error)
	UpcomingConfirmed(ctx context.Context, within time.Duration) ([]Booking, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Store {
	return &Repository{db: db}
}

const bookingColumns = `
    id, reference, client_id, expert_id, mode,
    scheduled_start, scheduled_end, actual_start, actual_end,
    price_cents_total, rate_cents_per_minute, commission_pct, expert_net_cents,
    payment_intent_id, status, created_at, updated_at`

// CreateIfAvailable inserts the booking only if its slot is still free.
// The overlap re-check and the insert run in one transaction serialized per
// expert through an advisory lock, closing the race between two concurrent
// requests for the same interval.
func (r *Repository) CreateIfAvailable(ctx context.Context, booking *Booking) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockExpertCalendar(ctx, tx, booking.ExpertID); err != nil {
		return err
	}

	taken, err := slotTaken(ctx, tx, booking.ExpertID, booking.ScheduledStart, booking.ScheduledEnd)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlotTaken
	}

	query := `
        INSERT INTO bookings (
            id, reference, client_id, expert_id, mode,
            scheduled_start, scheduled_end,
            price_cents_total, rate_cents_per_minute, commission_pct, expert_net_cents,
            payment_intent_id, status
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		booking.ID,
		booking.Reference,
		booking.ClientID,
		booking.ExpertID,
		booking.Mode,
		booking.ScheduledStart,
		booking.ScheduledEnd,
		booking.PriceCentsTotal,
		booking.RateCentsPerMinute,
		booking.CommissionPct,
		booking.ExpertNetCents,
		booking.PaymentIntentID,
		booking.Status,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `SELECT` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Transition applies an optimistic-concurrency status update: the row is
// changed only while its persisted status still equals `expected`. Slot
// exclusivity is already settled at insert time, since requested bookings
// block their interval.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, expected, next Status, fields TransitionFields) (*Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE bookings
        SET status            = $1,
            actual_start      = COALESCE($2, actual_start),
            actual_end        = COALESCE($3, actual_end),
            price_cents_total = COALESCE($4, price_cents_total),
            expert_net_cents  = COALESCE($5, expert_net_cents),
            updated_at        = NOW()
        WHERE id = $6 AND status = $7
        RETURNING` + bookingColumns

	b, err := scanBooking(tx.QueryRow(ctx, query,
		next,
		fields.ActualStart,
		fields.ActualEnd,
		fields.PriceCentsTotal,
		fields.ExpertNetCents,
		id,
		expected,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing row from a lost optimistic update.
			var exists bool
			if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if !exists {
				return nil, ErrNotFound
			}
			return nil, ErrStateConflict
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// CalendarIntervals returns the intervals blocking an expert's calendar in
// [from, to). Reads outside CreateIfAvailable are non-locking snapshots and
// may be momentarily stale.
func (r *Repository) CalendarIntervals(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `
        SELECT scheduled_start, scheduled_end
        FROM bookings
        WHERE expert_id = $1
          AND status IN (` + blockingStatuses + `)
          AND scheduled_start < $2 AND scheduled_end > $3
        ORDER BY scheduled_start`

	rows, err := r.db.Query(ctx, query, expertID, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func (r *Repository) ListByClient(ctx context.Context, clientID uuid.UUID, filter Filter) ([]Booking, error) {
	return r.list(ctx, "client_id", clientID, filter)
}

func (r *Repository) ListByExpert(ctx context.Context, expertID uuid.UUID, filter Filter) ([]Booking, error) {
	return r.list(ctx, "expert_id", expertID, filter)
}

func (r *Repository) list(ctx context.Context, column string, id uuid.UUID, filter Filter) ([]Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	query := fmt.Sprintf(`
        SELECT %s FROM bookings
        WHERE %s = $1 AND ($2::text IS NULL OR status = $2)
        ORDER BY scheduled_start DESC
        LIMIT $3 OFFSET $4`, bookingColumns, column)

	rows, err := r.db.Query(ctx, query, id, filter.Status, filter.Limit, filter.offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repository) EarningsForExpert(ctx context.Context, expertID uuid.UUID) (Earnings, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `
        SELECT
            COALESCE(SUM(expert_net_cents), 0),
            COALESCE(SUM(price_cents_total - expert_net_cents), 0),
            COUNT(*)
        FROM bookings
        WHERE expert_id = $1 AND status = 'completed'`

	var e Earnings
	err := r.db.QueryRow(ctx, query, expertID).Scan(&e.TotalNetCents, &e.TotalFeesCents, &e.CompletedCount)
	return e, err
}

// UpcomingConfirmed lists confirmed bookings starting within the given window,
// for the reminder sweeper.
func (r *Repository) UpcomingConfirmed(ctx context.Context, within time.Duration) ([]Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `
        SELECT` + bookingColumns + `
        FROM bookings
        WHERE status = 'confirmed'
          AND scheduled_start >= NOW()
          AND scheduled_start < NOW() + make_interval(secs => $1)
        ORDER BY scheduled_start`

	rows, err := r.db.Query(ctx, query, within.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// lockExpertCalendar serializes calendar mutation per expert for the duration
// of the transaction.
func lockExpertCalendar(ctx context.Context, tx pgx.Tx, expertID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, expertID)
	return err
}

// slotTaken checks for a blocking booking overlapping [start, end) with
// half-open semantics.
func slotTaken(ctx context.Context, tx pgx.Tx, expertID uuid.UUID, start, end time.Time) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM bookings
            WHERE expert_id = $1
              AND status IN (` + blockingStatuses + `)
              AND scheduled_start < $3 AND scheduled_end > $2
        )`

	var taken bool
	err := tx.QueryRow(ctx, query, expertID, start, end).Scan(&taken)
	return taken, err
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.ClientID,
		&b.ExpertID,
		&b.Mode,
		&b.ScheduledStart,
		&b.ScheduledEnd,
		&b.ActualStart,
		&b.ActualEnd,
		&b.PriceCentsTotal,
		&b.RateCentsPerMinute,
		&b.CommissionPct,
		&b.ExpertNetCents,
		&b.PaymentIntentID,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
