package experts

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"encoretalks/internal/availability"
	"encoretalks/internal/pricing"
)

var (
	ErrNotFound          = errors.New("expert not found")
	QueryTimeoutDuration = time.Second * 5
)

// Expert is the marketplace-facing profile of a consultant: the published
// price table and the recurring weekly availability.
type Expert struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
	Headline  string    `json:"headline"`

	RateCentsPerMinute int64 `json:"rate_cents_per_minute"`
	Fixed15Cents       int64 `json:"fixed_15m_cents"`
	Fixed30Cents       int64 `json:"fixed_30m_cents"`
	Fixed60Cents       int64 `json:"fixed_60m_cents"`

	// CommissionPct overrides the platform default when set (founding
	// experts negotiated a reduced fee).
	CommissionPct *int `json:"commission_pct,omitempty"`

	Availability availability.Weekly `json:"availability"`
	IsActive     bool                `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rates exposes the profile's price table in calculator form.
func (e *Expert) Rates() pricing.Rates {
	return pricing.Rates{
		PerMinuteCents: e.RateCentsPerMinute,
		FixedTiers: map[int]int64{
			15: e.Fixed15Cents,
			30: e.Fixed30Cents,
			60: e.Fixed60Cents,
		},
	}
}
