package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWhenMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	assert.Equal(t, 100, s.Brightness())
	name, addr := s.LastDevice()
	assert.Empty(t, name)
	assert.Empty(t, addr)
	assert.False(t, s.AutoConnect())
	assert.False(t, s.StartWithSystem())
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.SetBrightness(42))
	require.NoError(t, s.SetLastDevice("ELK-BLEDOM", "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, s.SetAutoConnect(true))

	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, s2.Brightness())
	name, addr := s2.LastDevice()
	assert.Equal(t, "ELK-BLEDOM", name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr)
	assert.True(t, s2.AutoConnect())
}

func TestWrongTypeIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
        "brightness": "very bright",
        "auto_connect_on_startup": 1,
        "last_device_name": 17,
        "last_device_address": "AA:BB:CC:DD:EE:FF"
    }`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100, s.Brightness())
	assert.False(t, s.AutoConnect())
	name, addr := s.LastDevice()
	assert.Empty(t, name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr)
}

func TestCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Brightness())
}
