package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/raytracer/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the window. Its size is fixed at startup, so the swapchain
// never has to follow a resize.
type Platform struct {
	Window *glfw.Window

	events *core.EventBus
}

func New(events *core.EventBus) *Platform {
	return &Platform{
		Window: nil,
		events: events,
	}
}

func (p *Platform) Startup(cfg core.WindowConfig) error {
	if err := glfw.Init(); err != nil {
		err = fmt.Errorf("failed to initialize glfw: %w", err)
		core.LogError(err.Error())
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		err = fmt.Errorf("failed to create window: %w", err)
		core.LogError(err.Error())
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetPos(int(cfg.X), int(cfg.Y))
	p.Window.Show()

	core.LogInfo("Window '%s' created (%dx%d).", cfg.Title, cfg.Width, cfg.Height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Key callbacks fire from here.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

func (p *Platform) SetTitle(title string) {
	p.Window.SetTitle(title)
}

// GetRequiredExtensionNames lists the instance extensions needed to create a
// surface for the window.
func (p *Platform) GetRequiredExtensionNames() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface returns the raw surface handle created for instance.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		err = fmt.Errorf("vulkan surface creation failed: %w", err)
		core.LogError(err.Error())
		return 0, err
	}
	return surface, nil
}

// keyEvent maps a key press to the event it triggers.
func keyEvent(key glfw.Key, action glfw.Action) (core.SystemEventCode, bool) {
	if action != glfw.Press {
		return 0, false
	}
	switch key {
	case glfw.KeyEscape:
		return core.EVENT_CODE_APPLICATION_QUIT, true
	case glfw.KeyF5:
		return core.EVENT_CODE_SHADERS_CHANGED, true
	default:
		return core.EVENT_CODE_KEY_PRESSED, true
	}
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code, ok := keyEvent(key, action)
	if !ok || p.events == nil {
		return
	}
	context := core.EventContext{}
	context.Data.U16[0] = uint16(key)
	p.events.Fire(code, p, context)
}
