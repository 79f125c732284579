package experts

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"encoretalks/internal/availability"
)

type Store interface {
	Create(ctx context.Context, expert *Expert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Expert, error)
	GetByProfileID(ctx context.Context, profileID uuid.UUID) (*Expert, error)
	UpdateAvailability(ctx context.Context, id uuid.UUID, week availability.Weekly) error
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Store {
	return &Repository{db: db}
}

const expertColumns = `
    id, profile_id, headline,
    rate_cents_per_minute, fixed_15m_cents, fixed_30m_cents, fixed_60m_cents,
    commission_pct, availability_json, is_active, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, expert *Expert) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	week, err := json.Marshal(expert.Availability)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO expert_profiles (
            id, profile_id, headline,
            rate_cents_per_minute, fixed_15m_cents, fixed_30m_cents, fixed_60m_cents,
            commission_pct, availability_json, is_active
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		expert.ID,
		expert.ProfileID,
		expert.Headline,
		expert.RateCentsPerMinute,
		expert.Fixed15Cents,
		expert.Fixed30Cents,
		expert.Fixed60Cents,
		expert.CommissionPct,
		week,
		expert.IsActive,
	).Scan(&expert.CreatedAt, &expert.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Expert, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Repository) GetByProfileID(ctx context.Context, profileID uuid.UUID) (*Expert, error) {
	return r.getBy(ctx, "profile_id", profileID)
}

func (r *Repository) getBy(ctx context.Context, column string, id uuid.UUID) (*Expert, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `SELECT` + expertColumns + ` FROM expert_profiles WHERE ` + column + ` = $1`

	var (
		e    Expert
		week []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.ProfileID,
		&e.Headline,
		&e.RateCentsPerMinute,
		&e.Fixed15Cents,
		&e.Fixed30Cents,
		&e.Fixed60Cents,
		&e.CommissionPct,
		&week,
		&e.IsActive,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(week, &e.Availability); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) UpdateAvailability(ctx context.Context, id uuid.UUID, week availability.Weekly) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	payload, err := json.Marshal(week)
	if err != nil {
		return err
	}

	query := `
        UPDATE expert_profiles
        SET availability_json = $1,
            updated_at        = NOW()
        WHERE id = $2`

	res, err := r.db.Exec(ctx, query, payload, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
