// Package schedule owns the weekly lighting profiles: their persistence,
// validation, conflict detection and the evaluation that resolves all
// active profiles into a single lamp state for any instant.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// DefaultProfileName is the protected profile that always exists and
// cannot be deleted.
const DefaultProfileName = "Default"

// Weekdays is the canonical day order for schedules and timelines.
var Weekdays = [7]time.Weekday{
	time.Monday,
	time.Tuesday,
	time.Wednesday,
	time.Thursday,
	time.Friday,
	time.Saturday,
	time.Sunday,
}

var (
	// ErrProtectedProfile is returned when deleting or renaming the
	// default profile.
	ErrProtectedProfile = errors.New("the default profile cannot be removed")
	// ErrDuplicateProfile is returned when a profile name is taken.
	ErrDuplicateProfile = errors.New("profile name already exists")
	// ErrUnknownProfile is returned for operations on a missing profile.
	ErrUnknownProfile = errors.New("unknown profile")
)

// FieldError reports a rejected schedule edit down to the field, so the
// caller can point the user at the exact input.
type FieldError struct {
	Profile string
	Day     string
	Field   string
	Value   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("profile %q, %s: invalid %s %q, want HH:MM", e.Profile, e.Day, e.Field, e.Value)
}

// DaySchedule is one weekday's rule. The on instant comes from either
// OnTime or sunrise+offset (Sunrise wins when set), the off instant
// from OffTime or sunset+offset. A second plain-time interval per day
// is supported via OnTime2/OffTime2.
type DaySchedule struct {
	Color         string `json:"color"`
	OnTime        string `json:"on_time"`
	OffTime       string `json:"off_time"`
	OnTime2       string `json:"on_time_2"`
	OffTime2      string `json:"off_time_2"`
	Sunrise       bool   `json:"sunrise"`
	SunriseOffset int    `json:"sunrise_offset"`
	Sunset        bool   `json:"sunset"`
	SunsetOffset  int    `json:"sunset_offset"`
}

// Profile is a named, independently activatable weekly schedule keyed
// by weekday name.
type Profile struct {
	Active   bool                   `json:"active"`
	Schedule map[string]DaySchedule `json:"schedule"`
}

// clone returns a deep copy so callers can never mutate engine state
// through a returned Profile.
func (p Profile) clone() Profile {
	out := Profile{Active: p.Active, Schedule: make(map[string]DaySchedule, len(p.Schedule))}
	for day, ds := range p.Schedule {
		out.Schedule[day] = ds
	}
	return out
}

// DefaultSchedule returns a blank rule for each of the 7 weekdays:
// all times empty, offsets zero, sun flags false, color prefilled with
// defaultColor (the first palette entry, or empty without a palette).
func DefaultSchedule(defaultColor string) map[string]DaySchedule {
	schedule := make(map[string]DaySchedule, len(Weekdays))
	for _, day := range Weekdays {
		schedule[day.String()] = DaySchedule{Color: defaultColor}
	}
	return schedule
}

// parseClock parses a 24-hour HH:MM string into minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || fmt.Sprintf("%02d:%02d", h, m) != s {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// validate rejects a rule whose explicit times do not parse. Sun-based
// instants ignore the corresponding time field, mirroring evaluation.
func (d DaySchedule) validate(profile, day string) error {
	check := func(field, value string, skip bool) error {
		if skip || value == "" {
			return nil
		}
		if _, err := parseClock(value); err != nil {
			return &FieldError{Profile: profile, Day: day, Field: field, Value: value}
		}
		return nil
	}
	if err := check("on_time", d.OnTime, d.Sunrise); err != nil {
		return err
	}
	if err := check("off_time", d.OffTime, d.Sunset); err != nil {
		return err
	}
	if err := check("on_time_2", d.OnTime2, false); err != nil {
		return err
	}
	return check("off_time_2", d.OffTime2, false)
}
