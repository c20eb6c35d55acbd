// Package autostart manages the XDG autostart desktop entry so the
// daemon can follow the user session.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const entryName = "lampd.desktop"

const entryTemplate = `[Desktop Entry]
Type=Application
Name=lampd
Comment=BLE LED lamp controller
Exec=%s run --hidden
Terminal=false
X-GNOME-Autostart-enabled=true
`

// Path returns the autostart entry location under the user's XDG
// config directory.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "autostart", entryName), nil
}

// Enable writes the desktop entry pointing at the current executable.
func Enable() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create autostart dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(entryTemplate, exe)), 0o644); err != nil {
		return fmt.Errorf("write autostart entry: %w", err)
	}
	log.Info().Str("path", path).Msg("Autostart enabled")
	return nil
}

// Disable removes the desktop entry. Removing a missing entry is not
// an error.
func Disable() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove autostart entry: %w", err)
	}
	log.Info().Str("path", path).Msg("Autostart disabled")
	return nil
}

// Enabled reports whether the desktop entry exists.
func Enabled() (bool, error) {
	path, err := Path()
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
