// Package settings persists mutable user settings as a flat JSON map
// with typed defaults. A stored value of the wrong type is ignored and
// the default retained, so a damaged file can never poison the store.
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Setting keys. The file is a JSON object keyed by these names.
const (
	KeyBrightness        = "brightness"
	KeyLastDeviceName    = "last_device_name"
	KeyLastDeviceAddress = "last_device_address"
	KeyAutoConnect       = "auto_connect_on_startup"
	KeyStartWithSystem   = "start_with_system"
)

func defaults() map[string]any {
	return map[string]any{
		KeyBrightness:        100,
		KeyLastDeviceName:    "",
		KeyLastDeviceAddress: "",
		KeyAutoConnect:       false,
		KeyStartWithSystem:   false,
	}
}

// Store is a file-backed settings map. All accessors are safe for
// concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]any
}

// Load reads the settings file, keeping defaults for missing keys and
// for values that fail their expected type.
func Load(path string) (*Store, error) {
	s := &Store{path: path, values: defaults()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Settings file is corrupt, using defaults")
		return s, nil
	}

	for key, def := range s.values {
		payload, ok := raw[key]
		if !ok {
			continue
		}
		switch def.(type) {
		case int:
			var v int
			if err := json.Unmarshal(payload, &v); err != nil {
				log.Warn().Str("key", key).Msg("Ignoring setting with unexpected type")
				continue
			}
			s.values[key] = v
		case bool:
			var v bool
			if err := json.Unmarshal(payload, &v); err != nil {
				log.Warn().Str("key", key).Msg("Ignoring setting with unexpected type")
				continue
			}
			s.values[key] = v
		case string:
			var v string
			if err := json.Unmarshal(payload, &v); err != nil {
				log.Warn().Str("key", key).Msg("Ignoring setting with unexpected type")
				continue
			}
			s.values[key] = v
		}
	}
	return s, nil
}

// Brightness returns the stored brightness percentage.
func (s *Store) Brightness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[KeyBrightness].(int)
}

// SetBrightness stores and persists the brightness percentage.
func (s *Store) SetBrightness(pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[KeyBrightness] = pct
	return s.saveLocked()
}

// LastDevice returns the remembered device name and address, both empty
// when no device was ever selected.
func (s *Store) LastDevice() (name, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[KeyLastDeviceName].(string), s.values[KeyLastDeviceAddress].(string)
}

// SetLastDevice remembers the selected device for auto-reconnect.
func (s *Store) SetLastDevice(name, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[KeyLastDeviceName] = name
	s.values[KeyLastDeviceAddress] = address
	return s.saveLocked()
}

// AutoConnect reports whether the daemon should connect to the last
// device on startup.
func (s *Store) AutoConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[KeyAutoConnect].(bool)
}

// SetAutoConnect stores the auto-connect-on-startup flag.
func (s *Store) SetAutoConnect(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[KeyAutoConnect] = enabled
	return s.saveLocked()
}

// StartWithSystem reports whether the OS autostart entry is wanted.
func (s *Store) StartWithSystem() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[KeyStartWithSystem].(bool)
}

// SetStartWithSystem stores the autostart flag.
func (s *Store) SetStartWithSystem(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[KeyStartWithSystem] = enabled
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
