package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is a recurrence granularity for a scheduled search.
type Unit int

const (
	Minutes Unit = iota
	Hours
	Days
	Weeks
	Months
	Years
)

var unitNames = map[Unit]string{
	Minutes: "MINUTES",
	Hours:   "HOURS",
	Days:    "DAYS",
	Weeks:   "WEEKS",
	Months:  "MONTHS",
	Years:   "YEARS",
}

// ParseUnit resolves a case-insensitive unit name. An unknown name is a hard
// configuration error; callers must not schedule the job.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MINUTES":
		return Minutes, nil
	case "HOURS":
		return Hours, nil
	case "DAYS":
		return Days, nil
	case "WEEKS":
		return Weeks, nil
	case "MONTHS":
		return Months, nil
	case "YEARS":
		return Years, nil
	default:
		return 0, fmt.Errorf("unknown recurrence unit %q", s)
	}
}

func (u Unit) String() string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// Field indexes into the 5-field calendar expression.
const (
	fieldMinute = iota
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldDayOfWeek
	numFields
)

// fixedFields maps each unit to the expression fields that are pinned to the
// anchor time; every other field stays a wildcard. To repeat each unit, the
// finer-grained fields carry the anchor's value ("S") and the rest are "*":
//
//	every minute: * * * * *
//	every hour:   S * * * *
//	every day:    S S * * *
//	every week:   S S * * S
//	every month:  S S S * *
//	every year:   S S S S *
//
// A static table instead of per-unit behavior keeps the whole policy visible
// in one place.
var fixedFields = map[Unit][]int{
	Minutes: {},
	Hours:   {fieldMinute},
	Days:    {fieldMinute, fieldHour},
	Weeks:   {fieldMinute, fieldHour, fieldDayOfWeek},
	Months:  {fieldMinute, fieldHour, fieldDayOfMonth},
	Years:   {fieldMinute, fieldHour, fieldDayOfMonth, fieldMonth},
}

// Expression is a compiled 5-field calendar trigger
// (minute, hour, day-of-month, month, day-of-week).
// Fields hold either a fixed value copied from the anchor or "*".
// It is derived once per recurrence and never mutated.
type Expression struct {
	fields [numFields]string
}

// String renders the expression in the form the trigger engine parses.
func (e Expression) String() string {
	return strings.Join(e.fields[:], " ")
}

// Fixed reports whether the given field index carries a fixed value.
func (e Expression) Fixed(i int) bool {
	return i >= 0 && i < numFields && e.fields[i] != "*"
}

// Compile derives the calendar-trigger expression for repeating once per
// unit, anchored at the given time.
//
// The trigger engine evaluates expressions in its own local timezone, so the
// anchor is converted to loc before its field values are read. This produces
// calendar-aligned repetition ("the 15th of every month"), not fixed-duration
// repetition; drift across DST and month-length boundaries is intentional.
func Compile(u Unit, anchor time.Time, loc *time.Location) Expression {
	if loc == nil {
		loc = time.Local
	}
	local := anchor.In(loc)

	// ISO day-of-week is Monday=1..Sunday=7; the trigger engine counts
	// Sunday=0..Saturday=6, hence the %7 remap.
	isoDow := int(local.Weekday())
	if isoDow == 0 {
		isoDow = 7
	}

	values := [numFields]int{
		fieldMinute:     local.Minute(),
		fieldHour:       local.Hour(),
		fieldDayOfMonth: local.Day(),
		fieldMonth:      int(local.Month()),
		fieldDayOfWeek:  isoDow % 7,
	}

	var e Expression
	for i := 0; i < numFields; i++ {
		e.fields[i] = "*"
	}
	for _, i := range fixedFields[u] {
		e.fields[i] = strconv.Itoa(values[i])
	}
	return e
}

// Daily builds an expression that fires once per calendar day at the given
// local hour and minute. Used by delayed-mode delivery schedules.
func Daily(hour, minute int) (Expression, error) {
	if hour < 0 || hour > 23 {
		return Expression{}, fmt.Errorf("invalid hour %d", hour)
	}
	if minute < 0 || minute > 59 {
		return Expression{}, fmt.Errorf("invalid minute %d", minute)
	}
	var e Expression
	for i := 0; i < numFields; i++ {
		e.fields[i] = "*"
	}
	e.fields[fieldMinute] = strconv.Itoa(minute)
	e.fields[fieldHour] = strconv.Itoa(hour)
	return e, nil
}
