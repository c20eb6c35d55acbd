package sun

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/rs/zerolog/log"
)

// Calculator computes local sunrise/sunset instants for fixed
// coordinates. Results are memoized per calendar day, since schedule
// evaluation asks for the same date many times between midnights.
type Calculator struct {
	coords Coordinates
	loc    *time.Location

	mu    sync.Mutex
	cache map[string]sunTimes
}

type sunTimes struct {
	rise, set time.Time
	ok        bool
}

// NewCalculator builds a calculator for the given coordinates. A nil
// location means time.Local.
func NewCalculator(coords Coordinates, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{
		coords: coords,
		loc:    loc,
		cache:  make(map[string]sunTimes),
	}
}

// Location returns the timezone the calculator reports instants in.
func (c *Calculator) Location() *time.Location { return c.loc }

// SunTimes returns local sunrise and sunset for the calendar day of
// date. ok is false when the sun never rises or sets there (polar day
// or night), in which case sun-based schedule entries must stay inert.
func (c *Calculator) SunTimes(date time.Time) (rise, set time.Time, ok bool) {
	day := date.In(c.loc)
	key := day.Format("2006-01-02")

	c.mu.Lock()
	cached, hit := c.cache[key]
	c.mu.Unlock()
	if hit {
		return cached.rise, cached.set, cached.ok
	}

	riseUTC, setUTC := sunrise.SunriseSunset(c.coords.Lat, c.coords.Lon, day.Year(), day.Month(), day.Day())
	result := sunTimes{}
	if !riseUTC.IsZero() && !setUTC.IsZero() {
		result = sunTimes{rise: riseUTC.In(c.loc), set: setUTC.In(c.loc), ok: true}
		log.Debug().
			Str("date", key).
			Str("sunrise", result.rise.Format("15:04")).
			Str("sunset", result.set.Format("15:04")).
			Msg("Sun times computed")
	} else {
		log.Warn().Str("date", key).Msg("No sunrise/sunset for this date and location")
	}

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()
	return result.rise, result.set, result.ok
}
