package adherence

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day, local wall clock, no timezone reasoning
// =============================================================================

// DateLayout is the ISO date format used for storage and JSON.
const DateLayout = "2006-01-02"

// Date is a calendar day. It carries no zone: the day a user sees on their
// wall clock is the day the plan belongs to.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the wall-clock day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return Date{t: t}, nil
}

func (d Date) Year() int              { return d.t.Year() }
func (d Date) Month() time.Month      { return d.t.Month() }
func (d Date) Day() int               { return d.t.Day() }
func (d Date) IsZero() bool           { return d.t.IsZero() }
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }
func (d Date) AddDays(n int) Date     { return Date{t: d.t.AddDate(0, 0, n)} }

// Time returns midnight of the day, labelled UTC.
func (d Date) Time() time.Time { return d.t }

// At is the instant the wall clock in loc shows tod on this day.
// A nil loc means UTC.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), 0, 0, loc)
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Date) ISOWeekday() Weekday {
	return ISOWeekday(d.t)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// TIME OF DAY - HH:MM, minute granularity
// =============================================================================

// TimeOfDay is minutes since local midnight. Values are only built through
// ParseTimeOfDay or NewTimeOfDay, so every value is in [00:00, 23:59].
type TimeOfDay int

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("%02d:%02d is out of range", hour, minute)}
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay accepts exactly "HH:MM" with HH in 00-23 and MM in 00-59.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	invalid := &ValidationError{Field: "time", Message: fmt.Sprintf("%q is not a HH:MM time", s)}
	if len(s) != 5 || s[2] != ':' {
		return 0, invalid
	}
	digits := [4]byte{s[0], s[1], s[3], s[4]}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, invalid
		}
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, invalid
	}
	return TimeOfDay(hour*60 + minute), nil
}

func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// WEEKDAYS - ISO numbering, Monday=1 ... Sunday=7
// =============================================================================

type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// ISOWeekday maps time.Weekday (Sunday=0) onto ISO numbering.
func ISOWeekday(t time.Time) Weekday {
	wd := t.Weekday()
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

// WeekdaySet is a bitmask; bit n is set when ISO weekday n is included.
type WeekdaySet uint8

const allWeekdays WeekdaySet = 0b1111_1110

// NewWeekdaySet builds a set from ISO weekday numbers. The result must be
// non-empty and every number must lie in 1..7; duplicates collapse.
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	if len(days) == 0 {
		return 0, &ValidationError{Field: "days", Message: "at least one weekday is required"}
	}
	var set WeekdaySet
	for _, d := range days {
		if !Weekday(d).Valid() {
			return 0, &ValidationError{Field: "days", Message: fmt.Sprintf("weekday %d is outside 1..7", d)}
		}
		set |= 1 << uint(d)
	}
	return set, nil
}

// EveryDay is the set {1..7}.
func EveryDay() WeekdaySet { return allWeekdays }

// WeekdaySetFromMask restores a set persisted with Mask.
func WeekdaySetFromMask(mask uint8) (WeekdaySet, error) {
	set := WeekdaySet(mask)
	if set == 0 || set&^allWeekdays != 0 {
		return 0, &ValidationError{Field: "days", Message: fmt.Sprintf("invalid weekday mask %#x", mask)}
	}
	return set, nil
}

func (s WeekdaySet) Mask() uint8 { return uint8(s) }

func (s WeekdaySet) IsEmpty() bool { return s&allWeekdays == 0 }

func (s WeekdaySet) Contains(w Weekday) bool {
	return w.Valid() && s&(1<<uint(w)) != 0
}

// Days returns the members in ascending order.
func (s WeekdaySet) Days() []int {
	days := make([]int, 0, 7)
	for d := Monday; d <= Sunday; d++ {
		if s.Contains(d) {
			days = append(days, int(d))
		}
	}
	return days
}

func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Days())
}

func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	set, err := NewWeekdaySet(days...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
