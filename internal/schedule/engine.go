package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/color"
)

// SunSource provides local sunrise/sunset for a calendar day. ok=false
// means sun-based entries stay inert for that day.
type SunSource interface {
	SunTimes(date time.Time) (rise, set time.Time, ok bool)
}

// ColorSource resolves color names to payloads. *color.Palette
// satisfies it.
type ColorSource interface {
	Get(name string) (color.Color, bool)
	DefaultName() string
}

// DecisionKind classifies an evaluation result.
type DecisionKind int

const (
	// DecisionNone means nothing was resolvable: leave the lamp alone.
	DecisionNone DecisionKind = iota
	// DecisionOff means intervals exist but none covers now: turn off.
	DecisionOff
	// DecisionColor selects a concrete color.
	DecisionColor
)

// Decision is the resolved lamp state for one instant.
type Decision struct {
	Kind      DecisionKind
	ColorName string
	Hex       string
	Frame     []byte
}

// ConflictError reports why a profile could not be activated.
type ConflictError struct {
	Profile   string
	Conflicts []string // "Monday - OtherProfile"
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("profile %q conflicts with active profiles: %v", e.Profile, e.Conflicts)
}

// Engine owns the profile collection. Every mutation persists the whole
// collection through the store before returning.
type Engine struct {
	store  *Store
	colors ColorSource
	sun    SunSource
	loc    *time.Location

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewEngine loads profiles from the store. loc is the timezone schedule
// times are interpreted in; nil means time.Local.
func NewEngine(store *Store, colors ColorSource, sun SunSource, loc *time.Location) (*Engine, error) {
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{store: store, colors: colors, sun: sun, loc: loc}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the profile file, e.g. after an external edit.
func (e *Engine) Reload() error {
	profiles, err := e.store.Load(e.colors.DefaultName())
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.profiles = profiles
	e.mu.Unlock()
	log.Debug().Int("profiles", len(profiles)).Msg("Profiles loaded")
	return nil
}

// ProfileNames returns all profile names in sorted order, which is also
// the evaluation order.
func (e *Engine) ProfileNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedNamesLocked()
}

func (e *Engine) sortedNamesLocked() []string {
	names := make([]string, 0, len(e.profiles))
	for name := range e.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns a copy of the named profile.
func (e *Engine) Profile(name string) (Profile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// AddProfile creates a new, inactive profile with a blank default
// schedule.
func (e *Engine) AddProfile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.profiles[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProfile, name)
	}
	e.profiles[name] = Profile{Active: false, Schedule: DefaultSchedule(e.colors.DefaultName())}
	return e.saveLocked()
}

// DeleteProfile removes a profile by name. The default profile is
// protected.
func (e *Engine) DeleteProfile(name string) error {
	if name == DefaultProfileName {
		return ErrProtectedProfile
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	delete(e.profiles, name)
	return e.saveLocked()
}

// RenameProfile moves a profile to a new name (delete/recreate
// semantics, schedule and active flag preserved).
func (e *Engine) RenameProfile(oldName, newName string) error {
	if oldName == DefaultProfileName {
		return ErrProtectedProfile
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.profiles[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, oldName)
	}
	if _, exists := e.profiles[newName]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProfile, newName)
	}
	delete(e.profiles, oldName)
	e.profiles[newName] = p
	return e.saveLocked()
}

// SetActive toggles a profile. Activation is refused (and the profile
// left inactive) when the profile's explicit intervals overlap any
// already-active profile's.
func (e *Engine) SetActive(name string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	if active {
		if conflicts := e.checkConflictsLocked(name); len(conflicts) > 0 {
			return &ConflictError{Profile: name, Conflicts: conflicts}
		}
	}
	p.Active = active
	e.profiles[name] = p
	return e.saveLocked()
}

// SetDaySchedule validates and stores one weekday's rule. On a
// validation error nothing is persisted.
func (e *Engine) SetDaySchedule(profile string, day time.Weekday, ds DaySchedule) error {
	if err := ds.validate(profile, day.String()); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.profiles[profile]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	p.Schedule[day.String()] = ds
	e.profiles[profile] = p
	return e.saveLocked()
}

// SetSchedule validates and stores a full weekly schedule for one
// profile. The first invalid field rejects the whole edit.
func (e *Engine) SetSchedule(profile string, schedule map[string]DaySchedule) error {
	for _, day := range Weekdays {
		ds, ok := schedule[day.String()]
		if !ok {
			return &FieldError{Profile: profile, Day: day.String(), Field: "schedule", Value: "missing"}
		}
		if err := ds.validate(profile, day.String()); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.profiles[profile]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	p.Schedule = schedule
	e.profiles[profile] = p
	return e.saveLocked()
}

// DefaultSchedule returns a blank weekly schedule prefilled with the
// palette's first color.
func (e *Engine) DefaultSchedule() map[string]DaySchedule {
	return DefaultSchedule(e.colors.DefaultName())
}

// CheckConflicts compares the named profile's explicit (non-sun)
// intervals against every other active profile, per weekday, and
// returns "Day - OtherProfile" entries for each overlap. Midnight-
// crossing intervals are split at 24:00 with the tail attributed to the
// next weekday.
func (e *Engine) CheckConflicts(name string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkConflictsLocked(name)
}

// minuteSpan is a half-open [Start,End) minute range within one day.
type minuteSpan struct {
	Start, End int
}

func (e *Engine) checkConflictsLocked(name string) []string {
	target, ok := e.profiles[name]
	if !ok {
		return nil
	}
	targetSpans := explicitSpansByDay(target)

	var conflicts []string
	for _, otherName := range e.sortedNamesLocked() {
		if otherName == name {
			continue
		}
		other := e.profiles[otherName]
		if !other.Active {
			continue
		}
		otherSpans := explicitSpansByDay(other)
		for _, day := range Weekdays {
			if overlaps(targetSpans[day], otherSpans[day]) {
				conflicts = append(conflicts, fmt.Sprintf("%s - %s", day, otherName))
				break
			}
		}
	}
	return conflicts
}

func overlaps(a, b []minuteSpan) bool {
	for _, s1 := range a {
		for _, s2 := range b {
			if s1.Start < s2.End && s2.Start < s1.End {
				return true
			}
		}
	}
	return false
}

// explicitSpansByDay expands a profile's plain-time intervals into
// per-weekday minute spans. Sun-based entries are excluded: their real
// timing is location- and date-dependent. A span crossing midnight is
// split, with the tail belonging to the following weekday.
func explicitSpansByDay(p Profile) map[time.Weekday][]minuteSpan {
	spans := make(map[time.Weekday][]minuteSpan, len(Weekdays))
	add := func(day time.Weekday, onStr, offStr string) {
		on, err := parseClock(onStr)
		if err != nil {
			return
		}
		off, err := parseClock(offStr)
		if err != nil {
			return
		}
		if off <= on {
			off += 24 * 60
		}
		if off > 24*60 {
			spans[day] = append(spans[day], minuteSpan{on, 24 * 60})
			next := Weekdays[(weekdayIndex(day)+1)%7]
			spans[next] = append(spans[next], minuteSpan{0, off - 24*60})
		} else {
			spans[day] = append(spans[day], minuteSpan{on, off})
		}
	}

	for _, day := range Weekdays {
		ds, ok := p.Schedule[day.String()]
		if !ok {
			continue
		}
		if !ds.Sunrise && !ds.Sunset && ds.OnTime != "" && ds.OffTime != "" {
			add(day, ds.OnTime, ds.OffTime)
		}
		if ds.OnTime2 != "" && ds.OffTime2 != "" {
			add(day, ds.OnTime2, ds.OffTime2)
		}
	}
	return spans
}

func weekdayIndex(day time.Weekday) int {
	for i, d := range Weekdays {
		if d == day {
			return i
		}
	}
	return 0
}

// resolved is one concrete interval produced by expanding a DaySchedule
// against a reference date.
type resolved struct {
	start, end time.Time
	color      color.Color
}

// Evaluate resolves all active profiles at now. Profiles are visited in
// name-sorted order, each over two reference dates (yesterday first,
// then today, so midnight-crossing intervals from yesterday are seen);
// the first interval containing now wins.
func (e *Engine) Evaluate(now time.Time) Decision {
	now = now.In(e.loc)
	today := now
	yesterday := now.AddDate(0, 0, -1)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var (
		intervals  []resolved
		resolvable bool
	)
	for _, name := range e.sortedNamesLocked() {
		p := e.profiles[name]
		if !p.Active {
			continue
		}
		for _, ref := range []time.Time{yesterday, today} {
			ds, ok := p.Schedule[ref.Weekday().String()]
			if !ok {
				continue
			}
			for _, span := range e.expandDay(ds, ref, ref.Equal(today)) {
				resolvable = true
				c, ok := e.colors.Get(ds.Color)
				if !ok {
					continue
				}
				intervals = append(intervals, resolved{start: span[0], end: span[1], color: c})
			}
		}
	}

	for _, iv := range intervals {
		if !now.Before(iv.start) && now.Before(iv.end) {
			return Decision{Kind: DecisionColor, ColorName: iv.color.Name, Hex: iv.color.Hex, Frame: iv.color.Frame}
		}
	}
	if resolvable {
		return Decision{Kind: DecisionOff}
	}
	return Decision{Kind: DecisionNone}
}

// expandDay produces the concrete intervals of one DaySchedule for a
// reference date. Sun-based instants resolve only when the reference
// date is today: sun times are computed once per day for the current
// date. If off is not after on, a single 24h wrap is applied.
func (e *Engine) expandDay(ds DaySchedule, ref time.Time, isToday bool) [][2]time.Time {
	var out [][2]time.Time

	on, onOK := e.resolveInstant(ref, isToday, ds.OnTime, ds.Sunrise, ds.SunriseOffset, true)
	off, offOK := e.resolveInstant(ref, isToday, ds.OffTime, ds.Sunset, ds.SunsetOffset, false)
	if onOK && offOK {
		if !off.After(on) {
			off = off.Add(24 * time.Hour)
		}
		out = append(out, [2]time.Time{on, off})
	}

	if ds.OnTime2 != "" && ds.OffTime2 != "" {
		on2, err1 := e.clockOn(ref, ds.OnTime2)
		off2, err2 := e.clockOn(ref, ds.OffTime2)
		if err1 == nil && err2 == nil {
			if !off2.After(on2) {
				off2 = off2.Add(24 * time.Hour)
			}
			out = append(out, [2]time.Time{on2, off2})
		}
	}
	return out
}

func (e *Engine) resolveInstant(ref time.Time, isToday bool, clock string, sunBased bool, offsetMin int, isSunrise bool) (time.Time, bool) {
	if sunBased {
		if !isToday {
			return time.Time{}, false
		}
		rise, set, ok := e.sun.SunTimes(ref)
		if !ok {
			return time.Time{}, false
		}
		base := rise
		if !isSunrise {
			base = set
		}
		return base.Add(time.Duration(offsetMin) * time.Minute), true
	}
	if clock == "" {
		return time.Time{}, false
	}
	t, err := e.clockOn(ref, clock)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// clockOn places an HH:MM clock reading onto a reference date in the
// engine's timezone.
func (e *Engine) clockOn(ref time.Time, clock string) (time.Time, error) {
	minutes, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	year, month, day := ref.In(e.loc).Date()
	return time.Date(year, month, day, minutes/60, minutes%60, 0, 0, e.loc), nil
}

func (e *Engine) saveLocked() error {
	return e.store.Save(e.profiles)
}
