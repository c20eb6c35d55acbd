package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Store persists the profile collection as one JSON file. A legacy
// single-schedule file (flat weekday map without the profile wrapper)
// is accepted as a migration input when the profile file is missing or
// unreadable.
type Store struct {
	mu         sync.Mutex
	path       string
	legacyPath string
}

// NewStore creates a store over the given profile file. legacyPath may
// be empty when no migration source exists.
func NewStore(path, legacyPath string) *Store {
	return &Store{path: path, legacyPath: legacyPath}
}

// Load reads the profile collection. Malformed fields are replaced with
// defaults instead of failing; a missing or corrupt file falls back to
// the legacy file and finally to a single blank default profile.
func (s *Store) Load(defaultColor string) (map[string]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err == nil {
		var raw map[string]rawProfile
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil && len(raw) > 0 {
			profiles := make(map[string]Profile, len(raw))
			for name, rp := range raw {
				profiles[name] = rp.merge(defaultColor)
			}
			return profiles, nil
		} else if jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", s.path).Msg("Profile file is corrupt, trying legacy schedule")
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return map[string]Profile{
		DefaultProfileName: {
			Active:   true,
			Schedule: s.loadLegacyLocked(defaultColor),
		},
	}, nil
}

// loadLegacyLocked reads the pre-profile single-schedule file, or a
// blank default schedule when it is absent or unreadable.
func (s *Store) loadLegacyLocked(defaultColor string) map[string]DaySchedule {
	schedule := DefaultSchedule(defaultColor)
	if s.legacyPath == "" {
		return schedule
	}
	data, err := os.ReadFile(s.legacyPath)
	if err != nil {
		return schedule
	}
	var raw map[string]rawDay
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Str("path", s.legacyPath).Msg("Legacy schedule file is corrupt, using defaults")
		return schedule
	}
	log.Info().Str("path", s.legacyPath).Msg("Migrating legacy single-schedule file")
	for day, rd := range raw {
		def, ok := schedule[day]
		if !ok {
			continue // unknown day key, locale artifact
		}
		schedule[day] = rd.merge(def)
	}
	return schedule
}

// Save atomically rewrites the whole profile collection.
func (s *Store) Save(profiles map[string]Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(profiles, "", "    ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch reloads on external edits of the profile file, invoking
// onChange after a short debounce. It returns once ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and our own atomic rename replace
	// the file, which would invalidate a file-level watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.path || !event.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Profile file watcher error")
		}
	}
}

// rawProfile and rawDay carry unvalidated JSON so a single malformed
// field degrades to its default instead of rejecting the whole file.
type rawProfile struct {
	Active   *bool             `json:"active"`
	Schedule map[string]rawDay `json:"schedule"`
}

type rawDay struct {
	Color         json.RawMessage `json:"color"`
	OnTime        json.RawMessage `json:"on_time"`
	OffTime       json.RawMessage `json:"off_time"`
	OnTime2       json.RawMessage `json:"on_time_2"`
	OffTime2      json.RawMessage `json:"off_time_2"`
	Sunrise       json.RawMessage `json:"sunrise"`
	SunriseOffset json.RawMessage `json:"sunrise_offset"`
	Sunset        json.RawMessage `json:"sunset"`
	SunsetOffset  json.RawMessage `json:"sunset_offset"`
}

func (rp rawProfile) merge(defaultColor string) Profile {
	p := Profile{Active: true, Schedule: DefaultSchedule(defaultColor)}
	if rp.Active != nil {
		p.Active = *rp.Active
	}
	for day, rd := range rp.Schedule {
		def, ok := p.Schedule[day]
		if !ok {
			continue
		}
		p.Schedule[day] = rd.merge(def)
	}
	return p
}

func (rd rawDay) merge(def DaySchedule) DaySchedule {
	d := def
	mergeString(rd.Color, &d.Color)
	mergeTime(rd.OnTime, &d.OnTime)
	mergeTime(rd.OffTime, &d.OffTime)
	mergeTime(rd.OnTime2, &d.OnTime2)
	mergeTime(rd.OffTime2, &d.OffTime2)
	mergeBool(rd.Sunrise, &d.Sunrise)
	mergeInt(rd.SunriseOffset, &d.SunriseOffset)
	mergeBool(rd.Sunset, &d.Sunset)
	mergeInt(rd.SunsetOffset, &d.SunsetOffset)
	return d
}

func mergeString(raw json.RawMessage, dst *string) {
	if raw == nil {
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

// mergeTime accepts a string only when it is empty or parses as HH:MM;
// anything else keeps the blank default.
func mergeTime(raw json.RawMessage, dst *string) {
	if raw == nil {
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	if v != "" {
		if _, err := parseClock(v); err != nil {
			return
		}
	}
	*dst = v
}

func mergeBool(raw json.RawMessage, dst *bool) {
	if raw == nil {
		return
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

// mergeInt tolerates offsets stored as strings, matching the loosest
// files seen in the wild; unparsable values keep the zero default.
func mergeInt(raw json.RawMessage, dst *int) {
	if raw == nil {
		return
	}
	var v int
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
			*dst = n
		}
	}
}
