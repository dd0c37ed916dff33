package types

import (
	"fmt"
	"time"
)

// DateRange is an inclusive calendar-date interval used to scope backlog
// queries and portal claim-history searches.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDateRange builds a range from inclusive bounds, truncated to dates.
func NewDateRange(from, to time.Time) (DateRange, error) {
	f := truncateToDate(from)
	t := truncateToDate(to)
	if t.Before(f) {
		return DateRange{}, fmt.Errorf("range end %s before start %s", t.Format("2006-01-02"), f.Format("2006-01-02"))
	}
	return DateRange{From: f, To: t}, nil
}

// ParseDateRange parses "YYYY-MM-DD" bounds.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse("2006-01-02", from)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	t, err := time.Parse("2006-01-02", to)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	return NewDateRange(f, t)
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	day := truncateToDate(d)
	return !day.Before(r.From) && !day.After(r.To)
}

// IsZero checks if the range is unset
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
