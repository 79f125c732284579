package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"encoretalks/internal/availability"
	"encoretalks/internal/domain/bookings"
	"encoretalks/internal/domain/experts"
	"encoretalks/internal/notifications"
	"encoretalks/internal/payments"
	"encoretalks/internal/pricing"
)

// fakeLedger reproduces the repository's atomic semantics in memory: the
// overlap check and the insert happen under one lock, and transitions are
// update-if-status-matches.
type fakeLedger struct {
	mu    sync.Mutex
	items map[uuid.UUID]*bookings.Booking
	// hideBusy makes CalendarIntervals lie, so tests can force the slot
	// race past the advisory check.
	hideBusy bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{items: make(map[uuid.UUID]*bookings.Booking)}
}

func blocking(s bookings.Status) bool {
	return s == bookings.StatusRequested || s == bookings.StatusConfirmed || s == bookings.StatusInProgress
}

func (f *fakeLedger) CreateIfAvailable(ctx context.Context, b *bookings.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.items {
		if existing.ExpertID != b.ExpertID || !blocking(existing.Status) {
			continue
		}
		if existing.ScheduledStart.Before(b.ScheduledEnd) && b.ScheduledStart.Before(existing.ScheduledEnd) {
			return bookings.ErrSlotTaken
		}
	}

	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.items[b.ID] = &cp
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.items[id]
	if !ok {
		return nil, bookings.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeLedger) Transition(ctx context.Context, id uuid.UUID, expected, next bookings.Status, fields bookings.TransitionFields) (*bookings.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.items[id]
	if !ok {
		return nil, bookings.ErrNotFound
	}
	if b.Status != expected {
		return nil, bookings.ErrStateConflict
	}

	b.Status = next
	if fields.ActualStart != nil {
		b.ActualStart = fields.ActualStart
	}
	if fields.ActualEnd != nil {
		b.ActualEnd = fields.ActualEnd
	}
	if fields.PriceCentsTotal != nil {
		b.PriceCentsTotal = *fields.PriceCentsTotal
	}
	if fields.ExpertNetCents != nil {
		b.ExpertNetCents = *fields.ExpertNetCents
	}
	b.UpdatedAt = time.Now()

	cp := *b
	return &cp, nil
}

func (f *fakeLedger) CalendarIntervals(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hideBusy {
		return nil, nil
	}
	var out []availability.Interval
	for _, b := range f.items {
		if b.ExpertID != expertID || !blocking(b.Status) {
			continue
		}
		if b.ScheduledStart.Before(to) && from.Before(b.ScheduledEnd) {
			out = append(out, availability.Interval{Start: b.ScheduledStart, End: b.ScheduledEnd})
		}
	}
	return out, nil
}

func (f *fakeLedger) ListByClient(ctx context.Context, clientID uuid.UUID, filter bookings.Filter) ([]bookings.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []bookings.Booking
	for _, b := range f.items {
		if b.ClientID == clientID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListByExpert(ctx context.Context, expertID uuid.UUID, filter bookings.Filter) ([]bookings.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []bookings.Booking
	for _, b := range f.items {
		if b.ExpertID == expertID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeLedger) EarningsForExpert(ctx context.Context, expertID uuid.UUID) (bookings.Earnings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var e bookings.Earnings
	for _, b := range f.items {
		if b.ExpertID == expertID && b.Status == bookings.StatusCompleted {
			e.TotalNetCents += b.ExpertNetCents
			e.TotalFeesCents += b.PriceCentsTotal - b.ExpertNetCents
			e.CompletedCount++
		}
	}
	return e, nil
}

func (f *fakeLedger) UpcomingConfirmed(ctx context.Context, within time.Duration) ([]bookings.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var out []bookings.Booking
	for _, b := range f.items {
		if b.Status != bookings.StatusConfirmed {
			continue
		}
		if !b.ScheduledStart.Before(now) && b.ScheduledStart.Before(now.Add(within)) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeLedger) seed(b *bookings.Booking) *bookings.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[b.ID] = b
	return b
}

type fakeGateway struct {
	mu           sync.Mutex
	authorizeErr error
	captureErr   error
	seq          int
	authorized   []payments.AuthorizeRequest
	captured     map[string]int64
	voided       []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{captured: make(map[string]int64)}
}

func (g *fakeGateway) Authorize(ctx context.Context, req payments.AuthorizeRequest) (payments.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.authorizeErr != nil {
		return payments.Authorization{}, g.authorizeErr
	}
	g.seq++
	g.authorized = append(g.authorized, req)
	return payments.Authorization{ID: fmt.Sprintf("pi_%d", g.seq), Status: "requires_capture"}, nil
}

func (g *fakeGateway) Capture(ctx context.Context, authorizationID string, amountCents int64) (payments.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.captureErr != nil {
		return payments.Receipt{}, g.captureErr
	}
	g.captured[authorizationID] = amountCents
	return payments.Receipt{ID: authorizationID, AmountCents: amountCents, Status: "succeeded"}, nil
}

func (g *fakeGateway) Void(ctx context.Context, authorizationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.voided = append(g.voided, authorizationID)
	return nil
}

func (g *fakeGateway) authorizeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.authorized)
}

func (g *fakeGateway) voidCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.voided)
}

func (g *fakeGateway) capturedAmount(id string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.captured[id]
	return amount, ok
}

type fakeExperts struct {
	mu    sync.Mutex
	items map[uuid.UUID]*experts.Expert
}

func (f *fakeExperts) Create(ctx context.Context, e *experts.Expert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[e.ID] = e
	return nil
}

func (f *fakeExperts) GetByID(ctx context.Context, id uuid.UUID) (*experts.Expert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.items[id]
	if !ok {
		return nil, experts.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExperts) GetByProfileID(ctx context.Context, profileID uuid.UUID) (*experts.Expert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.items {
		if e.ProfileID == profileID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, experts.ErrNotFound
}

func (f *fakeExperts) UpdateAvailability(ctx context.Context, id uuid.UUID, week availability.Weekly) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.items[id]
	if !ok {
		return experts.ErrNotFound
	}
	e.Availability = week
	return nil
}

type recordingNotifier struct {
	events chan notifications.BookingEvent
}

func (r *recordingNotifier) NotifyBooking(ctx context.Context, event notifications.BookingEvent, b *bookings.Booking) {
	r.events <- event
}

// Monday 2026-03-02; the test expert works Mondays 09:00-17:00.
var monday = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func testExpert() *experts.Expert {
	return &experts.Expert{
		ID:                 uuid.New(),
		ProfileID:          uuid.New(),
		Headline:           "Former orchestra conductor",
		RateCentsPerMinute: 600,
		Fixed15Cents:       2000,
		Fixed30Cents:       3200,
		Fixed60Cents:       6000,
		Availability: availability.Weekly{
			time.Monday: {{Start: 9, End: 17}},
		},
		IsActive: true,
	}
}

func newTestService(t *testing.T, now time.Time, notifier notifications.Notifier) (*Service, *fakeLedger, *fakeGateway, *experts.Expert) {
	t.Helper()

	expert := testExpert()
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	expertsStore := &fakeExperts{items: map[uuid.UUID]*experts.Expert{expert.ID: expert}}

	svc, err := NewService(
		ledger,
		expertsStore,
		gateway,
		pricing.NewCalculator(pricing.DefaultConfig()),
		availability.NewChecker(availability.DefaultConfig()),
		notifier,
		zap.NewNop().Sugar(),
		Config{ReferenceSalt: "test-salt"},
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.now = func() time.Time { return now }
	return svc, ledger, gateway, expert
}

func TestCreateFixedBooking(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if b.Status != bookings.StatusRequested {
		t.Errorf("status = %s, want %s", b.Status, bookings.StatusRequested)
	}
	if b.PriceCentsTotal != 3200 {
		t.Errorf("price = %d, want 3200", b.PriceCentsTotal)
	}
	if b.ExpertNetCents != 2560 {
		t.Errorf("expert net = %d, want 2560", b.ExpertNetCents)
	}
	if b.Reference == "" {
		t.Error("expected a booking reference")
	}
	if b.PaymentIntentID == "" {
		t.Error("expected a payment intent id")
	}
	if got := ledger.count(); got != 1 {
		t.Errorf("ledger holds %d bookings, want 1", got)
	}
	if got := gateway.authorizeCount(); got != 1 {
		t.Fatalf("authorize calls = %d, want 1", got)
	}
	if req := gateway.authorized[0]; req.AmountCents != 3200 || req.CaptureMode != payments.CaptureAutomatic {
		t.Errorf("authorized %d cents with %s capture, want 3200 automatic", req.AmountCents, req.CaptureMode)
	}
}

func TestCreateRushSurcharge(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, _, expert := newTestService(t, slotStart.Add(-5*time.Hour), nil)

	b, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.PriceCentsTotal != 3520 {
		t.Errorf("price = %d, want 3520", b.PriceCentsTotal)
	}
}

func TestCreatePerMinuteUsesManualCapture(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModePerMinute,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.PriceCentsTotal != 18000 {
		t.Errorf("price = %d, want 18000", b.PriceCentsTotal)
	}
	if b.RateCentsPerMinute != 600 {
		t.Errorf("locked rate = %d, want 600", b.RateCentsPerMinute)
	}
	if req := gateway.authorized[0]; req.CaptureMode != payments.CaptureManual {
		t.Errorf("capture mode = %s, want %s", req.CaptureMode, payments.CaptureManual)
	}
}

func TestCreateRejectsConflictBeforeAuthorizing(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	ledger.seed(&bookings.Booking{
		ID:             uuid.New(),
		ExpertID:       expert.ID,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
		Status:         bookings.StatusConfirmed,
	})

	_, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart.Add(15 * time.Minute),
		ScheduledEnd:   slotStart.Add(45 * time.Minute),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
	if got := gateway.authorizeCount(); got != 0 {
		t.Errorf("authorize calls = %d, want 0", got)
	}
	if got := ledger.count(); got != 1 {
		t.Errorf("ledger holds %d bookings, want 1", got)
	}
}

func TestCreateVoidsAuthorizationWhenSlotRaceIsLost(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	ledger.seed(&bookings.Booking{
		ID:             uuid.New(),
		ExpertID:       expert.ID,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
		Status:         bookings.StatusConfirmed,
	})
	ledger.hideBusy = true

	_, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
	if got := gateway.voidCount(); got != 1 {
		t.Errorf("void calls = %d, want 1", got)
	}
}

func TestCreateAuthorizationFailurePersistsNothing(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)
	gateway.authorizeErr = errors.New("card declined")

	_, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrPaymentAuthorizationFailed) {
		t.Fatalf("err = %v, want ErrPaymentAuthorizationFailed", err)
	}
	if got := ledger.count(); got != 0 {
		t.Errorf("ledger holds %d bookings, want 0", got)
	}
}

func TestCreateUnknownExpert(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, _, _ := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	_, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       uuid.New(),
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrExpertNotFound) {
		t.Fatalf("err = %v, want ErrExpertNotFound", err)
	}
}

func TestConcurrentCreatesSameSlot(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), CreateCommand{
				ClientID:       uuid.New(),
				ExpertID:       expert.ID,
				Mode:           pricing.ModeFixed,
				ScheduledStart: slotStart,
				ScheduledEnd:   slotStart.Add(30 * time.Minute),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotUnavailable):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if conflicts != n-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, n-1)
	}
	if got := ledger.count(); got != 1 {
		t.Errorf("ledger holds %d bookings, want 1", got)
	}
	// Every loser that got as far as authorizing must have released its hold.
	if got := gateway.authorizeCount() - 1; gateway.voidCount() != got {
		t.Errorf("void calls = %d, want %d", gateway.voidCount(), got)
	}
}

func TestConfirmIdempotent(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, _, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModeFixed, slotStart)

	first, err := svc.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if first.Status != bookings.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", first.Status)
	}

	second, err := svc.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if second.Status != bookings.StatusConfirmed {
		t.Errorf("status after repeat = %s, want confirmed", second.Status)
	}
}

func TestStartRecordsActualStart(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, _, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModeFixed, slotStart)
	if _, err := svc.Confirm(context.Background(), b.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	started, err := svc.Start(context.Background(), b.ID, slotStart.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != bookings.StatusInProgress {
		t.Errorf("status = %s, want in_progress", started.Status)
	}
	if started.ActualStart == nil || !started.ActualStart.Equal(slotStart.Add(2*time.Minute)) {
		t.Errorf("actual start = %v, want %v", started.ActualStart, slotStart.Add(2*time.Minute))
	}

	// Starting again is a no-op, and starting from requested is illegal.
	if _, err := svc.Start(context.Background(), b.ID, slotStart); err != nil {
		t.Errorf("repeat Start: %v", err)
	}
	other := mustCreate(t, svc, expert.ID, pricing.ModeFixed, slotStart.Add(2*time.Hour))
	if _, err := svc.Start(context.Background(), other.ID, slotStart); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start from requested: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteReconcilesPerMinute(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModePerMinute, slotStart)
	if _, err := svc.Confirm(context.Background(), b.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc.Start(context.Background(), b.ID, slotStart); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done, err := svc.Complete(context.Background(), b.ID, slotStart.Add(22*time.Minute))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != bookings.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.PriceCentsTotal != 13200 {
		t.Errorf("reconciled price = %d, want 13200", done.PriceCentsTotal)
	}
	if done.ExpertNetCents != 10560 {
		t.Errorf("expert net = %d, want 10560", done.ExpertNetCents)
	}
	if amount, ok := gateway.capturedAmount(b.PaymentIntentID); !ok || amount != 13200 {
		t.Errorf("captured %d (ok=%v), want 13200", amount, ok)
	}
}

func TestCompleteCaptureNeverExceedsAuthorization(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModePerMinute, slotStart)
	if _, err := svc.Confirm(context.Background(), b.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc.Start(context.Background(), b.ID, slotStart); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Session ran 40 minutes against a 30-minute authorization of 18000.
	done, err := svc.Complete(context.Background(), b.ID, slotStart.Add(40*time.Minute))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.PriceCentsTotal != 18000 {
		t.Errorf("reconciled price = %d, want 18000", done.PriceCentsTotal)
	}
	if amount, _ := gateway.capturedAmount(b.PaymentIntentID); amount != 18000 {
		t.Errorf("captured %d, want 18000", amount)
	}
}

func TestCompleteCaptureFailureLeavesInProgress(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, ledger, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModePerMinute, slotStart)
	if _, err := svc.Confirm(context.Background(), b.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc.Start(context.Background(), b.ID, slotStart); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gateway.captureErr = errors.New("provider unavailable")
	_, err := svc.Complete(context.Background(), b.ID, slotStart.Add(22*time.Minute))
	if !errors.Is(err, ErrPaymentCaptureFailed) {
		t.Fatalf("err = %v, want ErrPaymentCaptureFailed", err)
	}

	current, err := ledger.GetByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != bookings.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", current.Status)
	}

	// The retry after the provider recovers succeeds.
	gateway.captureErr = nil
	done, err := svc.Complete(context.Background(), b.ID, slotStart.Add(22*time.Minute))
	if err != nil {
		t.Fatalf("retried Complete: %v", err)
	}
	if done.Status != bookings.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
}

func TestCancelTransitionTable(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)

	cases := []struct {
		status  bookings.Status
		wantErr error
	}{
		{bookings.StatusRequested, nil},
		{bookings.StatusConfirmed, nil},
		{bookings.StatusInProgress, ErrInvalidTransition},
		{bookings.StatusCompleted, ErrInvalidTransition},
		{bookings.StatusCancelled, nil}, // idempotent no-op
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			svc, ledger, _, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)
			b := ledger.seed(&bookings.Booking{
				ID:              uuid.New(),
				Reference:       "seeded",
				ClientID:        uuid.New(),
				ExpertID:        expert.ID,
				Mode:            pricing.ModeFixed,
				ScheduledStart:  slotStart,
				ScheduledEnd:    slotStart.Add(30 * time.Minute),
				PriceCentsTotal: 3200,
				CommissionPct:   20,
				ExpertNetCents:  2560,
				PaymentIntentID: "pi_seeded",
				Status:          tc.status,
			})

			got, err := svc.Cancel(context.Background(), b.ID, b.ClientID)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && got.Status != bookings.StatusCancelled {
				t.Errorf("status = %s, want cancelled", got.Status)
			}
		})
	}
}

func TestCancelReleasesAuthorization(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, gateway, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModeFixed, slotStart)
	if _, err := svc.Confirm(context.Background(), b.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), b.ID, b.ClientID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := gateway.voidCount(); got != 1 {
		t.Fatalf("void calls = %d, want 1", got)
	}

	// Cancelling again is a no-op and must not void twice.
	if _, err := svc.Cancel(context.Background(), b.ID, b.ClientID); err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}
	if got := gateway.voidCount(); got != 1 {
		t.Errorf("void calls after repeat = %d, want 1", got)
	}
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	slotStart := monday.Add(10 * time.Hour)
	svc, _, _, expert := newTestService(t, slotStart.Add(-48*time.Hour), nil)

	b := mustCreate(t, svc, expert.ID, pricing.ModeFixed, slotStart)
	if _, err := svc.Cancel(context.Background(), b.ID, b.ClientID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expert.ID,
		Mode:           pricing.ModeFixed,
		ScheduledStart: slotStart,
		ScheduledEnd:   slotStart.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("rebooking freed slot: %v", err)
	}
}

func TestNextAvailableSlotUnknownExpert(t *testing.T) {
	svc, _, _, _ := newTestService(t, monday, nil)

	_, _, err := svc.NextAvailableSlot(context.Background(), uuid.New(), monday)
	if !errors.Is(err, ErrExpertNotFound) {
		t.Fatalf("err = %v, want ErrExpertNotFound", err)
	}
}

func TestSendUpcomingReminders(t *testing.T) {
	notifier := &recordingNotifier{events: make(chan notifications.BookingEvent, 4)}
	svc, ledger, _, expert := newTestService(t, time.Now(), notifier)

	soon := time.Now().Add(10 * time.Minute)
	ledger.seed(&bookings.Booking{
		ID:             uuid.New(),
		ExpertID:       expert.ID,
		ClientID:       uuid.New(),
		ScheduledStart: soon,
		ScheduledEnd:   soon.Add(30 * time.Minute),
		Status:         bookings.StatusConfirmed,
	})
	later := time.Now().Add(2 * time.Hour)
	ledger.seed(&bookings.Booking{
		ID:             uuid.New(),
		ExpertID:       expert.ID,
		ClientID:       uuid.New(),
		ScheduledStart: later,
		ScheduledEnd:   later.Add(30 * time.Minute),
		Status:         bookings.StatusConfirmed,
	})

	if err := svc.SendUpcomingReminders(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("SendUpcomingReminders: %v", err)
	}

	select {
	case event := <-notifier.events:
		if event != notifications.BookingReminder {
			t.Errorf("event = %s, want %s", event, notifications.BookingReminder)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reminder notification")
	}

	select {
	case event := <-notifier.events:
		t.Errorf("unexpected extra notification: %s", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func mustCreate(t *testing.T, svc *Service, expertID uuid.UUID, mode pricing.Mode, start time.Time) *bookings.Booking {
	t.Helper()

	b, err := svc.Create(context.Background(), CreateCommand{
		ClientID:       uuid.New(),
		ExpertID:       expertID,
		Mode:           mode,
		ScheduledStart: start,
		ScheduledEnd:   start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return b
}
