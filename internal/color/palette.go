// Package color holds the lamp color palette: a fixed built-in set plus
// user-defined custom colors persisted as a flat JSON file.
package color

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/protocol"
)

// ErrDuplicateColor is returned when adding a color whose name is
// already taken by a built-in or custom entry.
var ErrDuplicateColor = errors.New("color name already exists")

// ErrBuiltInColor is returned when deleting one of the built-in colors.
var ErrBuiltInColor = errors.New("built-in colors cannot be removed")

// Color is one selectable lamp color. Name is the identity key.
type Color struct {
	Name  string
	Hex   string // "#rrggbb"
	Frame []byte // precomputed color-set frame
}

type customEntry struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// BuiltIn returns the fixed 8-color palette.
func BuiltIn() []Color {
	names := []struct{ name, hex string }{
		{"Red", "#ff0000"},
		{"Green", "#00ff00"},
		{"Blue", "#0000ff"},
		{"Yellow", "#ffff00"},
		{"Cyan", "#00ffff"},
		{"Purple", "#800080"},
		{"Orange", "#ffa500"},
		{"White", "#ffffff"},
	}
	colors := make([]Color, 0, len(names))
	for _, n := range names {
		r, g, b, _ := parseHexColor(n.hex)
		colors = append(colors, Color{Name: n.name, Hex: n.hex, Frame: protocol.ColorFrame(r, g, b)})
	}
	return colors
}

// Palette merges the built-in colors with the custom color store.
type Palette struct {
	mu       sync.RWMutex
	path     string
	colors   []Color
	builtins int
}

// Load reads the custom color file (if present) and merges it into the
// built-in palette. Malformed entries and duplicate names are skipped
// with a warning rather than failing the load.
func Load(path string) (*Palette, error) {
	p := &Palette{path: path, colors: BuiltIn()}
	p.builtins = len(p.colors)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []customEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Custom color file is corrupt, starting with built-in palette")
		return p, nil
	}
	for _, e := range entries {
		if err := p.append(e.Name, e.Hex); err != nil {
			log.Warn().Err(err).Str("name", e.Name).Msg("Skipping custom color")
		}
	}
	return p, nil
}

// Colors returns a snapshot of the merged palette in definition order.
func (p *Palette) Colors() []Color {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Color, len(p.colors))
	copy(out, p.colors)
	return out
}

// Get looks a color up by name.
func (p *Palette) Get(name string) (Color, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.colors {
		if c.Name == name {
			return c, true
		}
	}
	return Color{}, false
}

// DefaultName returns the first palette color name, used to prefill
// blank schedules.
func (p *Palette) DefaultName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.colors) == 0 {
		return ""
	}
	return p.colors[0].Name
}

// Add registers a new custom color and persists the custom list.
func (p *Palette) Add(name, hexCode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.append(name, hexCode); err != nil {
		return err
	}
	return p.saveLocked()
}

// Delete removes a custom color by name and persists the custom list.
func (p *Palette) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.colors {
		if c.Name != name {
			continue
		}
		if i < p.builtins {
			return ErrBuiltInColor
		}
		p.colors = append(p.colors[:i], p.colors[i+1:]...)
		return p.saveLocked()
	}
	return fmt.Errorf("unknown color %q", name)
}

func (p *Palette) append(name, hexCode string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("color name is empty")
	}
	for _, c := range p.colors {
		if c.Name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateColor, name)
		}
	}
	r, g, b, err := parseHexColor(hexCode)
	if err != nil {
		return err
	}
	hexNorm := fmt.Sprintf("#%02x%02x%02x", r, g, b)
	p.colors = append(p.colors, Color{Name: name, Hex: hexNorm, Frame: protocol.ColorFrame(r, g, b)})
	return nil
}

func (p *Palette) saveLocked() error {
	custom := make([]customEntry, 0, len(p.colors)-p.builtins)
	for _, c := range p.colors[p.builtins:] {
		custom = append(custom, customEntry{Name: c.Name, Hex: c.Hex})
	}
	data, err := json.MarshalIndent(custom, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}

func parseHexColor(s string) (r, g, b uint8, err error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid color %q: want rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}
