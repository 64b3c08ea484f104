package trigger

import (
	"testing"
	"time"
)

func TestCompileFixedFieldsPerUnit(t *testing.T) {
	t.Parallel()

	// 2020-01-15 was a Wednesday; ISO dow 3, trigger dow 3.
	anchor := time.Date(2020, time.January, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		unit Unit
		want string
	}{
		{Minutes, "* * * * *"},
		{Hours, "30 * * * *"},
		{Days, "30 10 * * *"},
		{Weeks, "30 10 * * 3"},
		{Months, "30 10 15 * *"},
		{Years, "30 10 15 1 *"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.unit.String(), func(t *testing.T) {
			got := Compile(tt.unit, anchor, time.UTC).String()
			if got != tt.want {
				t.Fatalf("Compile(%v) = %q, want %q", tt.unit, got, tt.want)
			}
		})
	}
}

func TestCompileSundayRemap(t *testing.T) {
	t.Parallel()

	// 2020-01-19 was a Sunday; ISO dow 7 must map to trigger dow 0.
	anchor := time.Date(2020, time.January, 19, 8, 5, 0, 0, time.UTC)
	got := Compile(Weeks, anchor, time.UTC).String()
	want := "5 8 * * 0"
	if got != want {
		t.Fatalf("Compile(Weeks) = %q, want %q", got, want)
	}
}

func TestCompileUsesSchedulerLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	// 23:40 UTC is 02:40 the next day in UTC+3.
	anchor := time.Date(2020, time.June, 1, 23, 40, 0, 0, time.UTC)
	got := Compile(Days, anchor, loc).String()
	want := "40 2 * * *"
	if got != want {
		t.Fatalf("Compile(Days) = %q, want %q", got, want)
	}
}

func TestParseUnit(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Unit{
		"minutes": Minutes,
		"HOURS":   Hours,
		" Days ":  Days,
		"weeks":   Weeks,
		"Months":  Months,
		"YEARS":   Years,
	} {
		got, err := ParseUnit(name)
		if err != nil {
			t.Fatalf("ParseUnit(%q) error: %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseUnit(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := ParseUnit("fortnights"); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}

func TestDaily(t *testing.T) {
	t.Parallel()

	e, err := Daily(22, 15)
	if err != nil {
		t.Fatalf("Daily error: %v", err)
	}
	if got, want := e.String(), "15 22 * * *"; got != want {
		t.Fatalf("Daily = %q, want %q", got, want)
	}

	if _, err := Daily(24, 0); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if _, err := Daily(0, 60); err == nil {
		t.Fatal("expected error for invalid minute")
	}
}
