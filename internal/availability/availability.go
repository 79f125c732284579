package availability

import (
	"errors"
	"sort"
	"time"
)

var ErrInvalidSchedule = errors.New("availability intervals must be sorted, non-overlapping hour ranges")

// HourRange is a half-open [Start, End) range of whole hours within a day.
// End may be 24 to reach midnight.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Weekly is an expert's recurring availability, keyed by weekday
// (0=Sunday, matching time.Weekday). Stored as JSONB on the expert row.
type Weekly map[time.Weekday][]HourRange

// Validate checks the schedule invariant: per weekday the ranges are within
// the day, ascending by start and non-overlapping.
func (w Weekly) Validate() error {
	for day, ranges := range w {
		if day < time.Sunday || day > time.Saturday {
			return ErrInvalidSchedule
		}
		prevEnd := 0
		for i, r := range ranges {
			if r.Start < 0 || r.End > 24 || r.Start >= r.End {
				return ErrInvalidSchedule
			}
			if i > 0 && r.Start < prevEnd {
				return ErrInvalidSchedule
			}
			prevEnd = r.End
		}
	}
	return nil
}

// Normalize sorts each weekday's ranges ascending by start.
func (w Weekly) Normalize() {
	for _, ranges := range w {
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	}
}

// Interval is a half-open [Start, End) instant range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

type Config struct {
	// MinSlotDuration is the smallest booking NextAvailableSlot probes for.
	MinSlotDuration time.Duration
	// Horizon bounds how far ahead NextAvailableSlot scans.
	Horizon time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinSlotDuration: 10 * time.Minute,
		Horizon:         30 * 24 * time.Hour,
	}
}

// Checker answers whether a requested interval can be booked against an
// expert's recurring schedule and existing commitments. It is advisory:
// the booking ledger re-validates under a lock before inserting.
type Checker struct {
	cfg Config
}

func NewChecker(cfg Config) *Checker {
	def := DefaultConfig()
	if cfg.MinSlotDuration <= 0 {
		cfg.MinSlotDuration = def.MinSlotDuration
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	return &Checker{cfg: cfg}
}

// IsBookable reports whether [start, end) lies entirely inside the expert's
// recurring availability and clear of the busy intervals (bookings currently
// holding the calendar).
func (c *Checker) IsBookable(week Weekly, busy []Interval, start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	if !withinSchedule(week, start, end) {
		return false
	}
	req := Interval{Start: start, End: end}
	for _, b := range busy {
		if Overlaps(req, b) {
			return false
		}
	}
	return true
}

// NextAvailableSlot scans forward from `from`, minute by minute, and returns
// the first instant at which a minimal-duration booking would be accepted.
// The second return is false when nothing is free within the horizon.
func (c *Checker) NextAvailableSlot(week Weekly, busy []Interval, from time.Time) (time.Time, bool) {
	t := from.Truncate(time.Minute)
	if t.Before(from) {
		t = t.Add(time.Minute)
	}
	limit := from.Add(c.cfg.Horizon)
	for ; !t.After(limit); t = t.Add(time.Minute) {
		if c.IsBookable(week, busy, t, t.Add(c.cfg.MinSlotDuration)) {
			return t, true
		}
	}
	return time.Time{}, false
}

// withinSchedule walks each calendar day the interval touches, so requests
// spanning midnight are checked against both weekdays.
func withinSchedule(week Weekly, start, end time.Time) bool {
	segStart := start
	for segStart.Before(end) {
		dayStart := time.Date(segStart.Year(), segStart.Month(), segStart.Day(), 0, 0, 0, 0, segStart.Location())
		nextDay := dayStart.AddDate(0, 0, 1)

		segEnd := end
		if nextDay.Before(segEnd) {
			segEnd = nextDay
		}

		if !segmentInRanges(week[dayStart.Weekday()], dayStart, segStart, segEnd) {
			return false
		}
		segStart = segEnd
	}
	return true
}

// segmentInRanges reports whether [segStart, segEnd) fits entirely inside one
// of the day's hour ranges.
func segmentInRanges(ranges []HourRange, dayStart, segStart, segEnd time.Time) bool {
	for _, r := range ranges {
		rangeStart := dayStart.Add(time.Duration(r.Start) * time.Hour)
		rangeEnd := dayStart.Add(time.Duration(r.End) * time.Hour)
		if !segStart.Before(rangeStart) && !segEnd.After(rangeEnd) {
			return true
		}
	}
	return false
}
