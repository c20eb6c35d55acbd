package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activate(t *testing.T, e *Engine, name string) {
	t.Helper()
	require.NoError(t, e.SetActive(name, true))
}

func TestCheckConflictsSameDayOverlap(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	require.NoError(t, e.AddProfile("P2"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:00"})
	setDay(t, e, "P2", time.Monday, DaySchedule{Color: "Blue", OnTime: "09:00", OffTime: "11:00"})
	activate(t, e, "P2")

	assert.Equal(t, []string{"Monday - P2"}, e.CheckConflicts("P1"))
	assert.Empty(t, e.CheckConflicts("P2"), "P1 is inactive, so the symmetric check is clean")
}

func TestCheckConflictsNonOverlapping(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	require.NoError(t, e.AddProfile("P2"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:00"})
	setDay(t, e, "P2", time.Monday, DaySchedule{Color: "Blue", OnTime: "10:00", OffTime: "12:00"})
	activate(t, e, "P2")

	// Half-open intervals: [08:00,10:00) and [10:00,12:00) touch but
	// do not overlap.
	assert.Empty(t, e.CheckConflicts("P1"))
}

func TestCheckConflictsAcrossMidnight(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("Late"))
	require.NoError(t, e.AddProfile("Early"))
	setDay(t, e, "Late", time.Monday, DaySchedule{Color: "Red", OnTime: "22:00", OffTime: "02:00"})
	setDay(t, e, "Early", time.Tuesday, DaySchedule{Color: "Blue", OnTime: "01:00", OffTime: "03:00"})
	activate(t, e, "Early")

	// Late's Monday tail [00:00,02:00) lands on Tuesday and overlaps
	// Early's [01:00,03:00).
	assert.Equal(t, []string{"Tuesday - Early"}, e.CheckConflicts("Late"))
}

func TestCheckConflictsIgnoresSunBased(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	require.NoError(t, e.AddProfile("P2"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:00"})
	setDay(t, e, "P2", time.Monday, DaySchedule{Color: "Blue", Sunrise: true, Sunset: true})
	activate(t, e, "P2")

	assert.Empty(t, e.CheckConflicts("P1"))
}

func TestCheckConflictsSecondInterval(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	require.NoError(t, e.AddProfile("P2"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime2: "20:00", OffTime2: "22:00"})
	setDay(t, e, "P2", time.Monday, DaySchedule{Color: "Blue", OnTime: "21:00", OffTime: "23:00"})
	activate(t, e, "P2")

	assert.Equal(t, []string{"Monday - P2"}, e.CheckConflicts("P1"))
}

func TestActivationRefusedOnConflict(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	require.NoError(t, e.AddProfile("P2"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:00"})
	setDay(t, e, "P2", time.Monday, DaySchedule{Color: "Blue", OnTime: "09:00", OffTime: "11:00"})
	activate(t, e, "P1")

	err := e.SetActive("P2", true)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, []string{"Monday - P1"}, conflictErr.Conflicts)

	p, ok := e.Profile("P2")
	require.True(t, ok)
	assert.False(t, p.Active, "refused activation must leave the profile inactive")
}

func TestDeactivationNeverChecksConflicts(t *testing.T) {
	e := newTestEngine(t, fakeSun{ok: true})
	require.NoError(t, e.AddProfile("P1"))
	setDay(t, e, "P1", time.Monday, DaySchedule{Color: "Red", OnTime: "08:00", OffTime: "10:00"})
	activate(t, e, "P1")
	assert.NoError(t, e.SetActive("P1", false))
}
