package scheduler

import (
	"time"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

// Slot is one weekly delivery instant of a preference. Week is the ISO
// week of the slot's local calendar date.
type Slot struct {
	At   time.Time
	Week models.ISOWeek
}

// ReportPeriod is the start of the week the slot reports on: the ISO week
// before the slot's own.
func (s Slot) ReportPeriod() time.Time {
	return s.Week.Start().AddDate(0, 0, -7)
}

type slotSpec struct {
	loc          *time.Location
	offset       int
	hour, minute int
}

func parseSpec(p models.ReportDeliveryPreference) (slotSpec, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return slotSpec{}, apperr.Validation("unknown timezone %q", p.Timezone)
	}
	day, err := models.ParseWeekday(string(p.DeliveryDay))
	if err != nil {
		return slotSpec{}, err
	}
	hour, minute, err := models.ParseClock(p.DeliveryTime)
	if err != nil {
		return slotSpec{}, err
	}
	return slotSpec{loc: loc, offset: day.OffsetFromMonday(), hour: hour, minute: minute}, nil
}

// slotFor returns the slot in the local week that starts on monday. For a
// wall time that a DST transition skips or repeats, time.Date picks the
// offset.
func (s slotSpec) slotFor(monday time.Time) Slot {
	date := monday.AddDate(0, 0, s.offset)
	at := time.Date(date.Year(), date.Month(), date.Day(), s.hour, s.minute, 0, 0, s.loc)
	return Slot{At: at.UTC(), Week: models.WeekOf(date)}
}

func localMonday(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	day := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
}

// DueSlots lists the preference's slots that are due at now, oldest first.
// A slot is due when it lies after the preference was created and no later
// than now, and its week is after the watermark week. At most maxBackfill
// of the most recent slots are considered. Blocked slots are not filtered
// here.
func DueSlots(p models.ReportDeliveryPreference, w *models.Watermark, now time.Time, maxBackfill int) ([]Slot, error) {
	spec, err := parseSpec(p)
	if err != nil {
		return nil, err
	}
	if maxBackfill < 1 {
		maxBackfill = 1
	}

	monday := localMonday(now, spec.loc)
	var recent []Slot
	for k := 0; len(recent) < maxBackfill && k <= maxBackfill; k++ {
		slot := spec.slotFor(monday.AddDate(0, 0, -7*k))
		if slot.At.After(now) {
			continue
		}
		recent = append(recent, slot)
	}

	var due []Slot
	for i := len(recent) - 1; i >= 0; i-- {
		slot := recent[i]
		if !slot.At.After(p.CreatedAt) {
			continue
		}
		if w != nil && !w.Week.Before(slot.Week) {
			continue
		}
		due = append(due, slot)
	}
	return due, nil
}
