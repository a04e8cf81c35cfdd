package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/raytracer/engine/assets"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/platform"
	"github.com/spaghettifunk/raytracer/engine/renderer"
	"github.com/spaghettifunk/raytracer/engine/renderer/overlay"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Window is the part of the platform layer the loop drives.
type Window interface {
	PumpMessages()
	ShouldClose() bool
	SetTitle(title string)
	Shutdown() error
}

// FrameRenderer draws and presents one frame per call.
type FrameRenderer interface {
	DrawFrame() (raytracing.FrameResult, error)
	ReloadShaders() error
	Shutdown() error
}

type Engine struct {
	currentStage Stage
	config       *core.Config
	events       *core.EventBus
	window       Window
	renderer     FrameRenderer
	assetManager *assets.AssetManager
	clock        *core.Clock
	metrics      *core.Metrics

	running       atomic.Bool
	reloadPending bool
	lastTime      float64
	lastTitle     float64

	// Only used during Initialize.
	platform *platform.Platform
	vulkan   *renderer.Renderer
}

func New(config *core.Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(config.LogLevel)

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	events := core.NewEventBus()
	p := platform.New(events)
	r := renderer.NewVulkan(p, config.Renderer)

	return &Engine{
		currentStage: EngineStageUninitialized,
		config:       config,
		events:       events,
		window:       p,
		renderer:     r,
		assetManager: am,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		platform:     p,
		vulkan:       r,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.registerEvents()

	if err := e.platform.Startup(e.config.Window); err != nil {
		return err
	}

	if err := e.assetManager.Initialize(e.config.Shaders.Directory, e.config.Shaders.HotReload); err != nil {
		return fmt.Errorf("failed to index shader directory '%s': %w", e.config.Shaders.Directory, err)
	}

	if err := e.vulkan.Initialize(e.config, overlay.New(e.metrics)); err != nil {
		return err
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) registerEvents() {
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_SHADERS_CHANGED, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	case core.EVENT_CODE_SHADERS_CHANGED:
		if data.Data.C != "" {
			core.LogInfo("shader '%s' changed, reloading the pipeline", data.Data.C)
		}
		e.reloadPending = true
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	core.LogDebug("key pressed: %d", data.Data.U16[0])
	return false
}

// Stop makes Run return after the current frame. Safe to call from any goroutine.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Run drives the main loop until the window closes or Stop is called. It
// must run on the main OS thread.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.running.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.running.Load() {
		e.window.PumpMessages()
		if e.window.ShouldClose() {
			e.Stop()
			break
		}
		if err := e.runFrame(); err != nil {
			e.Stop()
			return err
		}
	}
	return nil
}

func (e *Engine) runFrame() error {
	e.drainShaderChanges()
	if e.reloadPending {
		e.reloadPending = false
		// A broken binary leaves the current pipeline in place.
		_ = e.renderer.ReloadShaders()
	}

	result, err := e.renderer.DrawFrame()
	if err != nil {
		return fmt.Errorf("frame %d failed: %w", result.Number, err)
	}
	if result.Skipped {
		e.metrics.FrameSkipped()
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	e.metrics.Update(currentTime - e.lastTime)
	e.lastTime = currentTime

	if currentTime-e.lastTitle >= 1.0 {
		e.lastTitle = currentTime
		e.window.SetTitle(fmt.Sprintf("%s - %.0f fps (%.2f ms)", e.config.Window.Title, e.metrics.FPS(), e.metrics.FrameTime()))
	}
	return nil
}

// drainShaderChanges forwards watcher notifications to the event bus.
func (e *Engine) drainShaderChanges() {
	if e.assetManager == nil {
		return
	}
	for {
		select {
		case path := <-e.assetManager.Changes():
			ctx := core.EventContext{}
			ctx.Data.C = path
			e.events.Fire(core.EVENT_CODE_SHADERS_CHANGED, e.assetManager, ctx)
		default:
			return
		}
	}
}

// Shutdown releases everything in reverse order of creation.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown

	var firstErr error
	keep := func(err error) {
		if err != nil {
			core.LogError(err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if e.renderer != nil {
		keep(e.renderer.Shutdown())
	}
	if e.assetManager != nil {
		keep(e.assetManager.Close())
	}
	if e.window != nil {
		keep(e.window.Shutdown())
	}

	e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.events.Unregister(core.EVENT_CODE_SHADERS_CHANGED, e)
	e.events.Unregister(core.EVENT_CODE_KEY_PRESSED, e)

	e.currentStage = EngineStageUninitialized
	core.LogInfo("engine shut down after %d skipped frames", e.metrics.Skipped())
	return firstErr
}
