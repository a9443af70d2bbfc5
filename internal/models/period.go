package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/locallift/backend/internal/apperr"
)

const Week = 7 * 24 * time.Hour

// ISOWeek identifies an ISO-8601 week.
type ISOWeek struct {
	Year int `json:"iso_year"`
	Week int `json:"iso_week"`
}

func WeekOf(t time.Time) ISOWeek {
	y, w := t.ISOWeek()
	return ISOWeek{Year: y, Week: w}
}

func (w ISOWeek) Before(o ISOWeek) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Week < o.Week
}

func (w ISOWeek) IsZero() bool {
	return w.Year == 0 && w.Week == 0
}

// Start returns Monday 00:00 UTC of the week.
func (w ISOWeek) Start() time.Time {
	// January 4th always falls in ISO week 1.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -((int(jan4.Weekday()) + 6) % 7))
	return monday.AddDate(0, 0, (w.Week-1)*7)
}

func (w ISOWeek) Prev() ISOWeek {
	return WeekOf(w.Start().AddDate(0, 0, -7))
}

func (w ISOWeek) String() string {
	return fmt.Sprintf("%d-W%02d", w.Year, w.Week)
}

// PeriodStart returns the Monday 00:00 UTC that identifies t's period.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
}

// ParsePeriod accepts a calendar date or an RFC 3339 timestamp and
// normalizes it to its period start.
func ParsePeriod(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return PeriodStart(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation("period %q must be YYYY-MM-DD or RFC 3339", s)
	}
	return PeriodStart(t), nil
}

// ChangePercent is a week-over-week change. New marks growth from zero,
// which has no finite percentage and renders as "new".
type ChangePercent struct {
	Value float64
	New   bool
}

var newLiteral = []byte(`"new"`)

func (c ChangePercent) MarshalJSON() ([]byte, error) {
	if c.New {
		return newLiteral, nil
	}
	return []byte(strconv.FormatFloat(c.Value, 'f', 1, 64)), nil
}

func (c *ChangePercent) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, newLiteral) {
		*c = ChangePercent{New: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("change_percentage: %w", err)
	}
	*c = ChangePercent{Value: v}
	return nil
}

func (c ChangePercent) String() string {
	if c.New {
		return "new"
	}
	return strconv.FormatFloat(c.Value, 'f', 1, 64) + "%"
}
