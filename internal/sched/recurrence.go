package sched

import (
	"fmt"
	"time"

	"searchwatch/internal/catalog"
	"searchwatch/internal/trigger"
)

// TimeLayout is the wire form of schedule timestamps and of result-cache
// keys: ISO-8601 with millisecond precision and a numeric zone offset.
const TimeLayout = "2006-01-02T15:04:05.000Z0700"

// Recurrence is a parsed, validated schedule block.
type Recurrence struct {
	// Amount throttles firings: the task runs on every Amount-th tick of
	// the unit cadence.
	Amount int
	Unit   trigger.Unit
	Start  time.Time
	End    time.Time
}

// Active reports whether t falls inside the recurrence window.
func (r Recurrence) Active(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ParseRecurrence validates a raw schedule block. A non-positive amount or
// an unknown unit is a hard error; malformed timestamps degrade to defaults
// instead (start falls back to now, end to one year out), so a half-edited
// schedule still runs rather than silently disappearing.
func ParseRecurrence(raw catalog.Schedule, now time.Time) (Recurrence, error) {
	if raw.Amount <= 0 {
		return Recurrence{}, fmt.Errorf("sched: schedule amount %d must be positive", raw.Amount)
	}
	unit, err := trigger.ParseUnit(raw.Unit)
	if err != nil {
		return Recurrence{}, fmt.Errorf("sched: %w", err)
	}
	start, err := time.Parse(TimeLayout, raw.Start)
	if err != nil {
		start = now
	}
	end, err := time.Parse(TimeLayout, raw.End)
	if err != nil {
		end = now.AddDate(1, 0, 0)
	}
	return Recurrence{Amount: raw.Amount, Unit: unit, Start: start, End: end}, nil
}

// deliveryWindow shifts a query recurrence by one minute so the aligned
// delivery fires just after the query that produced its results.
func deliveryWindow(r Recurrence) Recurrence {
	r.Start = r.Start.Add(time.Minute)
	r.End = r.End.Add(time.Minute)
	return r
}

// delayedStart derives the first firing instant of a delayed delivery: the
// configured time of day today, or tomorrow when that instant already
// passed, so a freshly saved schedule never fires immediately.
func delayedStart(now time.Time, hour, minute int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
