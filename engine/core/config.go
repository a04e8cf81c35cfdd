package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type WindowConfig struct {
	// Window title.
	Title string `toml:"title"`
	// Window starting position x axis.
	X uint32 `toml:"x"`
	// Window starting position y axis.
	Y uint32 `toml:"y"`
	// Framebuffer width. The window is not resizable.
	Width uint32 `toml:"width"`
	// Framebuffer height. The window is not resizable.
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	// Number of frames that may be recorded while earlier ones are still on the GPU.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Enables the Khronos validation layer and the debug report callback.
	Validation bool `toml:"validation"`
	// Preferred present mode: "fifo" or "mailbox".
	PresentMode string `toml:"present_mode"`
}

type ShaderConfig struct {
	// Directory holding the compiled SPIR-V binaries.
	Directory  string `toml:"directory"`
	RayGen     string `toml:"raygen"`
	Miss       string `toml:"miss"`
	ClosestHit string `toml:"closest_hit"`
	// Rebuild the pipeline when a binary in Directory changes.
	HotReload bool `toml:"hot_reload"`
}

type Config struct {
	LogLevel string         `toml:"log_level"`
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Shaders  ShaderConfig   `toml:"shaders"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Window: WindowConfig{
			Title:  "vulkanRaytracing",
			X:      100,
			Y:      100,
			Width:  800,
			Height: 600,
		},
		Renderer: RendererConfig{
			FramesInFlight: 2,
			Validation:     true,
			PresentMode:    "fifo",
		},
		Shaders: ShaderConfig{
			Directory:  "assets/shaders",
			RayGen:     "raygen.rgen.spv",
			Miss:       "miss.rmiss.spv",
			ClosestHit: "closesthit.rchit.spv",
			HotReload:  false,
		},
	}
}

// LoadConfig reads a TOML configuration on top of the defaults. A missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			LogInfo("configuration file '%s' not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%w: %s at %d:%d", ErrInvalidConfig, decodeErr.Error(), row, col)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 3 {
		return fmt.Errorf("%w: %d", ErrInvalidFramesInFlight, c.Renderer.FramesInFlight)
	}
	switch c.Renderer.PresentMode {
	case "fifo", "mailbox":
	default:
		return fmt.Errorf("%w: unknown present mode '%s'", ErrInvalidConfig, c.Renderer.PresentMode)
	}
	if c.Shaders.RayGen == "" || c.Shaders.Miss == "" || c.Shaders.ClosestHit == "" {
		return fmt.Errorf("%w: all three shader binaries must be named", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
