package bookings

import (
	"time"

	"github.com/google/uuid"

	"encoretalks/internal/pricing"
)

type Status string

const (
	StatusRequested  Status = "requested"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Booking is a single consultation session between a client and an expert.
// Rows are never deleted; cancelled bookings stay for history.
type Booking struct {
	ID        uuid.UUID `json:"id"`
	Reference string    `json:"reference"`
	ClientID  uuid.UUID `json:"client_id"`
	ExpertID  uuid.UUID `json:"expert_id"`

	Mode           pricing.Mode `json:"mode"`
	ScheduledStart time.Time    `json:"scheduled_start"`
	ScheduledEnd   time.Time    `json:"scheduled_end"`
	ActualStart    *time.Time   `json:"actual_start,omitempty"`
	ActualEnd      *time.Time   `json:"actual_end,omitempty"`

	PriceCentsTotal int64 `json:"price_cents_total"`
	// RateCentsPerMinute is the effective per-minute rate locked in at
	// creation; usage reconciliation reuses it at completion. Zero for
	// fixed mode.
	RateCentsPerMinute int64 `json:"rate_cents_per_minute,omitempty"`
	CommissionPct      int   `json:"commission_pct"`
	ExpertNetCents     int64 `json:"expert_net_cents"`

	// PaymentIntentID is the opaque authorization handle from the payment
	// provider.
	PaymentIntentID string `json:"-"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionFields are the columns a state transition may set alongside the
// status change. Nil fields are left untouched.
type TransitionFields struct {
	ActualStart     *time.Time
	ActualEnd       *time.Time
	PriceCentsTotal *int64
	ExpertNetCents  *int64
}

// Filter narrows booking listings.
type Filter struct {
	Status *Status // nil = no filtering
	Page   int     // 1-based
	Limit  int     // max items per page
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

// Earnings summarizes an expert's completed sessions.
type Earnings struct {
	TotalNetCents  int64 `json:"total_earnings_cents"`
	TotalFeesCents int64 `json:"total_fees_cents"`
	CompletedCount int   `json:"session_count"`
}
