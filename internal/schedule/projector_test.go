package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileTimelineSimpleInterval(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	setDay(t, e, DefaultProfileName, time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:30"})

	timeline := e.ProfileTimeline(DefaultProfileName)
	require.Len(t, timeline, 7)
	require.Len(t, timeline["Monday"], 1)
	assert.Equal(t, Segment{StartMin: 480, EndMin: 630, Hex: "#ff0000"}, timeline["Monday"][0])
	assert.Empty(t, timeline["Tuesday"])
}

func TestProfileTimelineSplitsMidnight(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	setDay(t, e, DefaultProfileName, time.Monday, DaySchedule{Color: "Blue", OnTime: "22:00", OffTime: "02:00"})

	segments := e.ProfileTimeline(DefaultProfileName)["Monday"]
	require.Len(t, segments, 2)
	assert.Equal(t, Segment{StartMin: 1320, EndMin: 1440, Hex: "#0000ff"}, segments[0])
	assert.Equal(t, Segment{StartMin: 0, EndMin: 120, Hex: "#0000ff"}, segments[1])
}

func TestProfileTimelineSunBased(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	setDay(t, e, DefaultProfileName, time.Wednesday, DaySchedule{
		Color: "Green", Sunrise: true, SunriseOffset: 30, Sunset: true,
	})

	segments := e.ProfileTimeline(DefaultProfileName)["Wednesday"]
	require.Len(t, segments, 1)
	// fakeSun: 06:00 rise + 30m offset, 18:00 set.
	assert.Equal(t, Segment{StartMin: 390, EndMin: 1080, Hex: "#00ff00"}, segments[0])
}

func TestProfileTimelineUnknownColorUsesFallback(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	setDay(t, e, DefaultProfileName, time.Monday, DaySchedule{Color: "NoSuch", OnTime: "08:00", OffTime: "09:00"})

	segments := e.ProfileTimeline(DefaultProfileName)["Monday"]
	require.Len(t, segments, 1)
	assert.Equal(t, fallbackHex, segments[0].Hex)
}

func TestActiveTimelineMergesAndSorts(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("Late"))
	setDay(t, e, DefaultProfileName, time.Monday, DaySchedule{Color: "Red", OnTime: "18:00", OffTime: "20:00"})
	setDay(t, e, "Late", time.Monday, DaySchedule{Color: "Blue", OnTime: "06:00", OffTime: "07:00"})
	activate(t, e, "Late")

	segments := e.ActiveTimeline()["Monday"]
	require.Len(t, segments, 2)
	assert.Equal(t, 360, segments[0].StartMin, "segments sorted by start minute")
	assert.Equal(t, 1080, segments[1].StartMin)
}

func TestActiveTimelineSkipsInactive(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("Idle"))
	setDay(t, e, "Idle", time.Monday, DaySchedule{Color: "Blue", OnTime: "06:00", OffTime: "07:00"})

	assert.Empty(t, e.ActiveTimeline()["Monday"])
}
