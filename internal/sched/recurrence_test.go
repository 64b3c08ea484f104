package sched

import (
	"testing"
	"time"

	"searchwatch/internal/catalog"
	"searchwatch/internal/trigger"
)

func TestParseRecurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("full block", func(t *testing.T) {
		t.Parallel()
		rec, err := ParseRecurrence(catalog.Schedule{
			Amount: 2,
			Unit:   "hours",
			Start:  "2026-03-01T08:00:00.000+0000",
			End:    "2026-04-01T08:00:00.000+0000",
		}, now)
		if err != nil {
			t.Fatalf("ParseRecurrence: %v", err)
		}
		if rec.Amount != 2 || rec.Unit != trigger.Hours {
			t.Fatalf("rec = %+v", rec)
		}
		if !rec.Start.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
			t.Fatalf("start = %v", rec.Start)
		}
	})

	t.Run("bad amount is hard error", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseRecurrence(catalog.Schedule{Amount: 0, Unit: "days"}, now); err == nil {
			t.Fatal("want error for amount 0")
		}
	})

	t.Run("bad unit is hard error", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseRecurrence(catalog.Schedule{Amount: 1, Unit: "fortnights"}, now); err == nil {
			t.Fatal("want error for unknown unit")
		}
	})

	t.Run("bad timestamps fall back to defaults", func(t *testing.T) {
		t.Parallel()
		rec, err := ParseRecurrence(catalog.Schedule{
			Amount: 1,
			Unit:   "days",
			Start:  "not-a-time",
			End:    "",
		}, now)
		if err != nil {
			t.Fatalf("ParseRecurrence: %v", err)
		}
		if !rec.Start.Equal(now) {
			t.Fatalf("start = %v, want now", rec.Start)
		}
		if !rec.End.Equal(now.AddDate(1, 0, 0)) {
			t.Fatalf("end = %v, want now+1y", rec.End)
		}
	})
}

func TestRecurrenceActive(t *testing.T) {
	t.Parallel()

	rec := Recurrence{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before", rec.Start.Add(-time.Second), false},
		{"at start", rec.Start, true},
		{"inside", rec.Start.AddDate(0, 0, 15), true},
		{"at end", rec.End, true},
		{"after", rec.End.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rec.Active(tt.at); got != tt.want {
				t.Fatalf("Active(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestDeliveryWindow(t *testing.T) {
	t.Parallel()

	rec := Recurrence{
		Amount: 3,
		Unit:   trigger.Hours,
		Start:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	got := deliveryWindow(rec)
	if !got.Start.Equal(rec.Start.Add(time.Minute)) || !got.End.Equal(rec.End.Add(time.Minute)) {
		t.Fatalf("window = [%v, %v]", got.Start, got.End)
	}
	if got.Amount != rec.Amount || got.Unit != rec.Unit {
		t.Fatalf("cadence changed: %+v", got)
	}
}

func TestDelayedStart(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		hour, minute int
		wantDay      int
	}{
		{"later today", 18, 30, 10},
		{"already passed", 10, 0, 11},
		{"this exact minute rolls over", 15, 0, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := delayedStart(now, tt.hour, tt.minute)
			if got.Day() != tt.wantDay || got.Hour() != tt.hour || got.Minute() != tt.minute {
				t.Fatalf("delayedStart = %v", got)
			}
		})
	}
}

func TestTimeLayoutRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 10, 15, 4, 5, 123_000_000, time.UTC)
	key := at.Format(TimeLayout)
	back, err := time.Parse(TimeLayout, key)
	if err != nil {
		t.Fatalf("parse %q: %v", key, err)
	}
	if !back.Equal(at) {
		t.Fatalf("round trip %v != %v", back, at)
	}
}
