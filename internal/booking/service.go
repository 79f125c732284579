package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/speps/go-hashids/v2"
	"go.uber.org/zap"

	"encoretalks/internal/availability"
	"encoretalks/internal/domain/bookings"
	"encoretalks/internal/domain/experts"
	"encoretalks/internal/notifications"
	"encoretalks/internal/payments"
	"encoretalks/internal/pricing"
)

// CreateCommand is the validated, immutable request to book a session.
type CreateCommand struct {
	ClientID       uuid.UUID
	ExpertID       uuid.UUID
	Mode           pricing.Mode
	ScheduledStart time.Time
	ScheduledEnd   time.Time
}

type Config struct {
	Currency       string
	PaymentTimeout time.Duration
	// SlotHorizon bounds how far ahead next-slot searches look.
	SlotHorizon time.Duration
	// ReferenceSalt seeds the short human-readable booking references.
	ReferenceSalt string
}

// Service owns the booking lifecycle: it is the only writer of booking state
// and the only caller of the payment gateway. Transitions are idempotent on
// their target state so upstream retries are safe.
type Service struct {
	ledger   bookings.Store
	experts  experts.Store
	gateway  payments.Gateway
	calc     *pricing.Calculator
	checker  *availability.Checker
	notifier notifications.Notifier
	logger   *zap.SugaredLogger
	cfg      Config
	refs     *hashids.HashID
	now      func() time.Time
}

func NewService(
	ledger bookings.Store,
	expertsStore experts.Store,
	gateway payments.Gateway,
	calc *pricing.Calculator,
	checker *availability.Checker,
	notifier notifications.Notifier,
	logger *zap.SugaredLogger,
	cfg Config,
) (*Service, error) {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Second
	}
	if cfg.SlotHorizon <= 0 {
		cfg.SlotHorizon = 30 * 24 * time.Hour
	}

	hd := hashids.NewData()
	hd.Salt = cfg.ReferenceSalt
	hd.MinLength = 8
	refs, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}

	return &Service{
		ledger:   ledger,
		experts:  expertsStore,
		gateway:  gateway,
		calc:     calc,
		checker:  checker,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		refs:     refs,
		now:      time.Now,
	}, nil
}

// Create prices and persists a new booking in `requested` state. The payment
// hold is obtained before the insert; if the insert loses the slot race the
// hold is released, so neither side is left dangling.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*bookings.Booking, error) {
	now := s.now()
	if !cmd.ScheduledEnd.After(cmd.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled end must be after start", ErrSlotUnavailable)
	}
	if cmd.ScheduledStart.Before(now) {
		return nil, fmt.Errorf("%w: scheduled start is in the past", ErrSlotUnavailable)
	}

	expert, err := s.experts.GetByID(ctx, cmd.ExpertID)
	if err != nil {
		if errors.Is(err, experts.ErrNotFound) {
			return nil, ErrExpertNotFound
		}
		return nil, err
	}
	if !expert.IsActive {
		return nil, ErrExpertNotFound
	}

	// Advisory availability check; the ledger re-validates under its lock.
	busy, err := s.ledger.CalendarIntervals(ctx, cmd.ExpertID, cmd.ScheduledStart, cmd.ScheduledEnd)
	if err != nil {
		return nil, err
	}
	if !s.checker.IsBookable(expert.Availability, busy, cmd.ScheduledStart, cmd.ScheduledEnd) {
		return nil, ErrSlotUnavailable
	}

	quote, err := s.calc.Price(
		cmd.Mode,
		cmd.ScheduledEnd.Sub(cmd.ScheduledStart),
		expert.Rates(),
		cmd.ScheduledStart.Sub(now),
		expert.CommissionPct,
	)
	if err != nil {
		return nil, err
	}

	captureMode := payments.CaptureAutomatic
	if cmd.Mode == pricing.ModePerMinute {
		captureMode = payments.CaptureManual
	}

	id := uuid.New()
	reference := s.newReference(now)

	authCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()
	auth, err := s.gateway.Authorize(authCtx, payments.AuthorizeRequest{
		AmountCents: quote.PriceCentsTotal,
		Currency:    s.cfg.Currency,
		CaptureMode: captureMode,
		Metadata: map[string]string{
			"booking_id": id.String(),
			"expert_id":  cmd.ExpertID.String(),
			"client_id":  cmd.ClientID.String(),
			"mode":       string(cmd.Mode),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentAuthorizationFailed, err)
	}

	b := &bookings.Booking{
		ID:                 id,
		Reference:          reference,
		ClientID:           cmd.ClientID,
		ExpertID:           cmd.ExpertID,
		Mode:               cmd.Mode,
		ScheduledStart:     cmd.ScheduledStart,
		ScheduledEnd:       cmd.ScheduledEnd,
		PriceCentsTotal:    quote.PriceCentsTotal,
		RateCentsPerMinute: quote.RateCentsPerMinute,
		CommissionPct:      quote.CommissionPct,
		ExpertNetCents:     quote.ExpertNetCents,
		PaymentIntentID:    auth.ID,
		Status:             bookings.StatusRequested,
	}

	if err := s.ledger.CreateIfAvailable(ctx, b); err != nil {
		s.releaseAuthorization(auth.ID, reference)
		if errors.Is(err, bookings.ErrSlotTaken) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.notify(notifications.BookingCreated, b)
	return b, nil
}

// Confirm moves requested -> confirmed. Confirming an already-confirmed
// booking is a no-op success.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case bookings.StatusConfirmed:
		return b, nil
	case bookings.StatusRequested:
	default:
		return nil, ErrInvalidTransition
	}

	updated, err := s.ledger.Transition(ctx, id, bookings.StatusRequested, bookings.StatusConfirmed, bookings.TransitionFields{})
	if err != nil {
		return s.resolveConflict(ctx, id, bookings.StatusConfirmed, err)
	}

	s.notify(notifications.BookingConfirmed, updated)
	return updated, nil
}

// Start moves confirmed -> in_progress and records the actual start time.
func (s *Service) Start(ctx context.Context, id uuid.UUID, actualStart time.Time) (*bookings.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case bookings.StatusInProgress:
		return b, nil
	case bookings.StatusConfirmed:
	default:
		return nil, ErrInvalidTransition
	}

	updated, err := s.ledger.Transition(ctx, id, bookings.StatusConfirmed, bookings.StatusInProgress, bookings.TransitionFields{
		ActualStart: &actualStart,
	})
	if err != nil {
		return s.resolveConflict(ctx, id, bookings.StatusInProgress, err)
	}

	s.notify(notifications.BookingStarted, updated)
	return updated, nil
}

// Complete moves in_progress -> completed. Per-minute bookings are
// reconciled against the actual session window and the hold is captured for
// exactly the reconciled amount; a capture failure leaves the booking
// in_progress so the caller can retry.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actualEnd time.Time) (*bookings.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case bookings.StatusCompleted:
		return b, nil
	case bookings.StatusInProgress:
	default:
		return nil, ErrInvalidTransition
	}

	fields := bookings.TransitionFields{ActualEnd: &actualEnd}

	if b.Mode == pricing.ModePerMinute {
		actualStart := b.ScheduledStart
		if b.ActualStart != nil {
			actualStart = *b.ActualStart
		}

		quote, err := s.calc.Reconcile(actualStart, actualEnd, b.RateCentsPerMinute, b.CommissionPct, b.PriceCentsTotal)
		if err != nil {
			return nil, err
		}

		captureCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
		defer cancel()
		if _, err := s.gateway.Capture(captureCtx, b.PaymentIntentID, quote.PriceCentsTotal); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentCaptureFailed, err)
		}

		fields.PriceCentsTotal = &quote.PriceCentsTotal
		fields.ExpertNetCents = &quote.ExpertNetCents
	}

	updated, err := s.ledger.Transition(ctx, id, bookings.StatusInProgress, bookings.StatusCompleted, fields)
	if err != nil {
		return s.resolveConflict(ctx, id, bookings.StatusCompleted, err)
	}

	s.notify(notifications.BookingCompleted, updated)
	return updated, nil
}

// Cancel moves requested|confirmed -> cancelled and releases the payment
// hold. Sessions that have started cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor uuid.UUID) (*bookings.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case bookings.StatusCancelled:
		return b, nil
	case bookings.StatusRequested, bookings.StatusConfirmed:
	default:
		return nil, ErrInvalidTransition
	}

	updated, err := s.ledger.Transition(ctx, id, b.Status, bookings.StatusCancelled, bookings.TransitionFields{})
	if err != nil {
		return s.resolveConflict(ctx, id, bookings.StatusCancelled, err)
	}

	s.logger.Infow("booking cancelled", "booking", updated.Reference, "actor", actor)
	s.releaseAuthorization(updated.PaymentIntentID, updated.Reference)
	s.notify(notifications.BookingCancelled, updated)
	return updated, nil
}

// NextAvailableSlot returns the first instant from `from` at which a
// minimal-duration booking would be accepted, or false when nothing is free
// within the configured horizon.
func (s *Service) NextAvailableSlot(ctx context.Context, expertID uuid.UUID, from time.Time) (time.Time, bool, error) {
	expert, err := s.experts.GetByID(ctx, expertID)
	if err != nil {
		if errors.Is(err, experts.ErrNotFound) {
			return time.Time{}, false, ErrExpertNotFound
		}
		return time.Time{}, false, err
	}

	busy, err := s.ledger.CalendarIntervals(ctx, expertID, from, from.Add(s.cfg.SlotHorizon))
	if err != nil {
		return time.Time{}, false, err
	}

	at, ok := s.checker.NextAvailableSlot(expert.Availability, busy, from)
	return at, ok, nil
}

// SendUpcomingReminders notifies participants of confirmed bookings starting
// within the window. Meant to be driven by a ticker matching the window, so
// each booking is reminded about roughly once.
func (s *Service) SendUpcomingReminders(ctx context.Context, within time.Duration) error {
	upcoming, err := s.ledger.UpcomingConfirmed(ctx, within)
	if err != nil {
		return err
	}
	for i := range upcoming {
		s.notify(notifications.BookingReminder, &upcoming[i])
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	b, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// resolveConflict re-reads the booking after a lost optimistic update. If a
// concurrent caller already landed the same target state the transition is
// an idempotent success; otherwise the conflict is surfaced.
func (s *Service) resolveConflict(ctx context.Context, id uuid.UUID, target bookings.Status, cause error) (*bookings.Booking, error) {
	if !errors.Is(cause, bookings.ErrStateConflict) {
		return nil, cause
	}
	current, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, cause
	}
	if current.Status == target {
		return current, nil
	}
	return nil, cause
}

// releaseAuthorization voids a payment hold outside the request context, so
// a cancelled caller cannot strand the hold. Failures are logged; a voided
// intent expires on the provider side eventually, and support can release it
// from the dashboard.
func (s *Service) releaseAuthorization(authorizationID, reference string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PaymentTimeout)
	defer cancel()
	if err := s.gateway.Void(ctx, authorizationID); err != nil {
		s.logger.Errorw("failed to void payment authorization", "booking", reference, "authorization", authorizationID, "error", err)
	}
}

func (s *Service) notify(event notifications.BookingEvent, b *bookings.Booking) {
	if s.notifier == nil {
		return
	}
	snapshot := *b
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.notifier.NotifyBooking(ctx, event, &snapshot)
	}()
}

// newReference derives a short, user-facing booking code.
func (s *Service) newReference(now time.Time) string {
	ref, err := s.refs.EncodeInt64([]int64{now.UnixMilli()})
	if err != nil {
		// EncodeInt64 only fails on negative input; fall back to the raw id.
		return fmt.Sprintf("BK%d", now.UnixMilli())
	}
	return ref
}
