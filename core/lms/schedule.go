package lms

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidTimeOfDay = errors.New("time of day must be formatted as HH:MM")

// TimeOfDay is a wall-clock time without a date ("18:30").
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, ErrInvalidTimeOfDay
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the time of day on the date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, 0, 0, d.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	tod, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = tod
	return nil
}

// Slot is a weekly recurring lesson time.
type Slot struct {
	Day   time.Weekday `json:"day"`
	Start TimeOfDay    `json:"start"`
}

// SlotOf returns the weekly slot t falls in, in t's location.
func SlotOf(t time.Time) Slot {
	return Slot{Day: t.Weekday(), Start: TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}}
}

// Next returns the first occurrence of the slot at or after now, in now's location.
func (s Slot) Next(now time.Time) time.Time {
	days := (int(s.Day) - int(now.Weekday()) + 7) % 7
	occ := s.Start.On(now).AddDate(0, 0, days)
	if occ.Before(now) {
		occ = occ.AddDate(0, 0, 7)
	}
	return occ
}

func (s Slot) String() string {
	return s.Day.String() + " " + s.Start.String()
}
