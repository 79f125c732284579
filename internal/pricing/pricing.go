package pricing

import (
	"errors"
	"math"
	"sort"
	"time"
)

var (
	ErrInvalidDuration     = errors.New("no fixed tier covers the requested duration")
	ErrInvalidActualWindow = errors.New("actual end must be after actual start")
	ErrUnknownMode         = errors.New("unknown pricing mode")
	ErrMissingRate         = errors.New("expert has no rate for the requested mode")
)

type Mode string

const (
	ModeFixed     Mode = "fixed"
	ModePerMinute Mode = "per_minute"
)

// Rates is an expert's published price table, all amounts in cents.
type Rates struct {
	PerMinuteCents int64
	// FixedTiers maps a tier duration in minutes to its flat price.
	FixedTiers map[int]int64
}

type Config struct {
	MinBillableMinutes int
	RushWindow         time.Duration
	RushMultiplier     float64
	CommissionPct      int
}

func DefaultConfig() Config {
	return Config{
		MinBillableMinutes: 10,
		RushWindow:         24 * time.Hour,
		RushMultiplier:     1.10,
		CommissionPct:      20,
	}
}

// Quote is the priced outcome of a booking request.
type Quote struct {
	PriceCentsTotal int64 `json:"price_cents_total"`
	ExpertNetCents  int64 `json:"expert_net_cents"`
	CommissionPct   int   `json:"commission_pct"`
	// RateCentsPerMinute is the effective per-minute rate locked in at
	// creation (rush surcharge folded in). Zero for fixed mode.
	RateCentsPerMinute int64 `json:"rate_cents_per_minute,omitempty"`
	RushApplied        bool  `json:"rush_applied"`
}

// Calculator prices bookings. It holds no state beyond its configuration
// and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.MinBillableMinutes <= 0 {
		cfg.MinBillableMinutes = def.MinBillableMinutes
	}
	if cfg.RushWindow <= 0 {
		cfg.RushWindow = def.RushWindow
	}
	if cfg.RushMultiplier <= 0 {
		cfg.RushMultiplier = def.RushMultiplier
	}
	if cfg.CommissionPct <= 0 {
		cfg.CommissionPct = def.CommissionPct
	}
	return &Calculator{cfg: cfg}
}

// Price computes the authorized amount for a booking request.
// leadTime is how far in the future the session starts; the rush surcharge
// applies when it is under the configured window. commissionOverride, when
// non-nil, replaces the default platform commission (founding experts).
func (c *Calculator) Price(mode Mode, duration time.Duration, rates Rates, leadTime time.Duration, commissionOverride *int) (Quote, error) {
	minutes := ceilMinutes(duration)
	if minutes <= 0 {
		return Quote{}, ErrInvalidDuration
	}

	var q Quote
	switch mode {
	case ModeFixed:
		price, err := tierPrice(rates.FixedTiers, minutes)
		if err != nil {
			return Quote{}, err
		}
		q.PriceCentsTotal = price
	case ModePerMinute:
		if rates.PerMinuteCents <= 0 {
			return Quote{}, ErrMissingRate
		}
		billable := minutes
		if billable < c.cfg.MinBillableMinutes {
			billable = c.cfg.MinBillableMinutes
		}
		q.PriceCentsTotal = int64(billable) * rates.PerMinuteCents
		q.RateCentsPerMinute = rates.PerMinuteCents
	default:
		return Quote{}, ErrUnknownMode
	}

	if leadTime < c.cfg.RushWindow {
		q.PriceCentsTotal = roundCents(float64(q.PriceCentsTotal) * c.cfg.RushMultiplier)
		if q.RateCentsPerMinute > 0 {
			q.RateCentsPerMinute = roundCents(float64(q.RateCentsPerMinute) * c.cfg.RushMultiplier)
		}
		q.RushApplied = true
	}

	q.CommissionPct = c.cfg.CommissionPct
	if commissionOverride != nil {
		q.CommissionPct = *commissionOverride
	}
	q.ExpertNetCents = applyCommission(q.PriceCentsTotal, q.CommissionPct)

	return q, nil
}

// Reconcile recomputes a per-minute booking's price from the actual session
// window at completion. rateCentsPerMinute is the effective rate locked in at
// creation; authorizedCents caps the result, since a payment hold can never
// be captured above the authorized amount.
func (c *Calculator) Reconcile(actualStart, actualEnd time.Time, rateCentsPerMinute int64, commissionPct int, authorizedCents int64) (Quote, error) {
	if !actualEnd.After(actualStart) {
		return Quote{}, ErrInvalidActualWindow
	}
	if rateCentsPerMinute <= 0 {
		return Quote{}, ErrMissingRate
	}

	minutes := ceilMinutes(actualEnd.Sub(actualStart))
	if minutes < c.cfg.MinBillableMinutes {
		minutes = c.cfg.MinBillableMinutes
	}

	price := int64(minutes) * rateCentsPerMinute
	if price > authorizedCents {
		price = authorizedCents
	}

	return Quote{
		PriceCentsTotal:    price,
		ExpertNetCents:     applyCommission(price, commissionPct),
		CommissionPct:      commissionPct,
		RateCentsPerMinute: rateCentsPerMinute,
	}, nil
}

// tierPrice returns the price of the smallest tier covering minutes.
func tierPrice(tiers map[int]int64, minutes int) (int64, error) {
	keys := make([]int, 0, len(tiers))
	for k := range tiers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if k >= minutes {
			return tiers[k], nil
		}
	}
	return 0, ErrInvalidDuration
}

// ceilMinutes rounds a duration up to whole minutes.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func applyCommission(priceCents int64, pct int) int64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return roundCents(float64(priceCents) * (1 - float64(pct)/100))
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
