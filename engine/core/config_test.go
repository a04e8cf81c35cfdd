package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raytracer.toml")
	data := []byte(`
log_level = "debug"

[window]
title = "triangle"
width = 1280
height = 720

[renderer]
frames_in_flight = 3
present_mode = "mailbox"

[shaders]
directory = "build/shaders"
hot_reload = true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "triangle", cfg.Window.Title)
	assert.Equal(t, uint32(1280), cfg.Window.Width)
	assert.Equal(t, uint32(720), cfg.Window.Height)
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, "mailbox", cfg.Renderer.PresentMode)
	assert.True(t, cfg.Renderer.Validation)
	assert.Equal(t, "build/shaders", cfg.Shaders.Directory)
	assert.Equal(t, "raygen.rgen.spv", cfg.Shaders.RayGen)
	assert.True(t, cfg.Shaders.HotReload)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"zero frames", "[renderer]\nframes_in_flight = 0\n", ErrInvalidFramesInFlight},
		{"too many frames", "[renderer]\nframes_in_flight = 4\n", ErrInvalidFramesInFlight},
		{"zero width", "[window]\nwidth = 0\n", ErrInvalidConfig},
		{"present mode", "[renderer]\npresent_mode = \"immediate\"\n", ErrInvalidConfig},
		{"empty raygen", "[shaders]\nraygen = \"\"\n", ErrInvalidConfig},
		{"syntax", "[window\n", ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "raytracer.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConfigEncodeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window.Title = "encoded"
	data, err := cfg.Encode()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "raytracer.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
