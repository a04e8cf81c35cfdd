package renderer

import (
	"fmt"
	"path/filepath"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/platform"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
	"github.com/spaghettifunk/raytracer/engine/renderer/vulkan"
)

// RendererBackend brings up a graphics device and a swapchain for the window.
type RendererBackend interface {
	Initialize(appName string, appWidth, appHeight uint32) error
	Device() raytracing.Device
	Swapchain() raytracing.Swapchain
	Shutdown() error
}

// Renderer ties the backend to the ray-tracing resource graph.
type Renderer struct {
	backend RendererBackend
	graph   *raytracing.ResourceGraph
}

func New(backend RendererBackend) *Renderer {
	return &Renderer{backend: backend}
}

// NewVulkan returns a renderer backed by the Vulkan device layer.
func NewVulkan(p *platform.Platform, config core.RendererConfig) *Renderer {
	return New(vulkan.New(p, config))
}

// ShaderPaths resolves the configured binaries against the shader directory.
func ShaderPaths(config core.ShaderConfig) raytracing.ShaderPaths {
	return raytracing.ShaderPaths{
		RayGen:     filepath.Join(config.Directory, config.RayGen),
		Miss:       filepath.Join(config.Directory, config.Miss),
		ClosestHit: filepath.Join(config.Directory, config.ClosestHit),
	}
}

// Initialize creates the device and then every ray-tracing resource for the
// single triangle scene.
func (r *Renderer) Initialize(config *core.Config, overlay raytracing.Overlay) error {
	if err := r.backend.Initialize(config.Window.Title, config.Window.Width, config.Window.Height); err != nil {
		return fmt.Errorf("failed to initialize renderer backend: %w", err)
	}

	graph, err := raytracing.NewResourceGraph(r.backend.Device(), r.backend.Swapchain(), raytracing.GraphOptions{
		FramesInFlight: config.Renderer.FramesInFlight,
		Shaders:        ShaderPaths(config.Shaders),
		Mesh:           raytracing.TriangleMesh(),
		Overlay:        overlay,
	})
	if err != nil {
		return err
	}
	r.graph = graph
	return nil
}

func (r *Renderer) DrawFrame() (raytracing.FrameResult, error) {
	if r.graph == nil {
		return raytracing.FrameResult{}, fmt.Errorf("renderer is not initialized")
	}
	return r.graph.DrawFrame()
}

// ReloadShaders swaps in a pipeline built from the binaries on disk. The
// running pipeline stays in place when the new one fails to build.
func (r *Renderer) ReloadShaders() error {
	if r.graph == nil {
		return fmt.Errorf("renderer is not initialized")
	}
	if err := r.graph.ReloadPipeline(); err != nil {
		core.LogWarn("shader reload failed, keeping the current pipeline: %s", err)
		return err
	}
	return nil
}

func (r *Renderer) Shutdown() error {
	if r.graph != nil {
		if err := r.graph.Destroy(); err != nil {
			return err
		}
		r.graph = nil
	}
	return r.backend.Shutdown()
}
