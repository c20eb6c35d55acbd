package schedule

import (
	"sort"
	"time"
)

// Segment is a drawable piece of one day's timeline, in minutes of day
// with a half-open [StartMin,EndMin) range.
type Segment struct {
	StartMin int
	EndMin   int
	Hex      string
}

// fallbackHex is drawn for entries whose color name is unknown.
const fallbackHex = "#ffffff"

// ProfileTimeline projects one profile's schedule into per-weekday
// segment lists for rendering. Each weekday is expanded against its
// next occurrence from today, so sun-based entries show this week's
// actual times. Intervals crossing midnight are split into a same-day
// remainder and a next-day head. Pure read: safe at UI refresh rates.
func (e *Engine) ProfileTimeline(name string) map[string][]Segment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.profiles[name]
	if !ok {
		return nil
	}
	return e.timelineLocked(p)
}

// ActiveTimeline merges the timelines of all active profiles, each
// day's segments sorted by start minute.
func (e *Engine) ActiveTimeline() map[string][]Segment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	combined := make(map[string][]Segment, len(Weekdays))
	for _, day := range Weekdays {
		combined[day.String()] = []Segment{}
	}
	for _, name := range e.sortedNamesLocked() {
		p := e.profiles[name]
		if !p.Active {
			continue
		}
		for day, segments := range e.timelineLocked(p) {
			combined[day] = append(combined[day], segments...)
		}
	}
	for day := range combined {
		segs := combined[day]
		sort.Slice(segs, func(i, j int) bool { return segs[i].StartMin < segs[j].StartMin })
		combined[day] = segs
	}
	return combined
}

func (e *Engine) timelineLocked(p Profile) map[string][]Segment {
	now := time.Now().In(e.loc)
	todayIdx := weekdayIndex(now.Weekday())

	result := make(map[string][]Segment, len(Weekdays))
	for idx, day := range Weekdays {
		ds, ok := p.Schedule[day.String()]
		segments := []Segment{}
		if ok {
			ref := now.AddDate(0, 0, (idx-todayIdx+7)%7)
			hex := fallbackHex
			if c, found := e.colors.Get(ds.Color); found {
				hex = c.Hex
			}
			// Sun instants are date-pure here, so any reference date
			// resolves (unlike evaluation, which only trusts today).
			for _, span := range e.expandDayForDate(ds, ref) {
				segments = append(segments, splitAtMidnight(span[0], span[1], hex)...)
			}
		}
		result[day.String()] = segments
	}
	return result
}

// expandDayForDate is the projector variant of expandDay: sun-based
// instants are computed for the reference date itself.
func (e *Engine) expandDayForDate(ds DaySchedule, ref time.Time) [][2]time.Time {
	var out [][2]time.Time

	on, onOK := e.resolveInstant(ref, true, ds.OnTime, ds.Sunrise, ds.SunriseOffset, true)
	off, offOK := e.resolveInstant(ref, true, ds.OffTime, ds.Sunset, ds.SunsetOffset, false)
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

func splitAtMidnight(on, off time.Time, hex string) []Segment {
	startMin := on.Hour()*60 + on.Minute()
	endMin := startMin + int(off.Sub(on).Minutes())
	if endMin > 24*60 {
		return []Segment{
			{StartMin: startMin, EndMin: 24 * 60, Hex: hex},
			{StartMin: 0, EndMin: endMin - 24*60, Hex: hex},
		}
	}
	return []Segment{{StartMin: startMin, EndMin: endMin, Hex: hex}}
}
