package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

type ShaderPaths struct {
	RayGen     string
	Miss       string
	ClosestHit string
}

type GraphOptions struct {
	FramesInFlight uint32
	Shaders        ShaderPaths
	Mesh           Mesh
	// Optional.
	Overlay Overlay
}

type graphStep struct {
	name    string
	build   func() error
	destroy func()
}

// ResourceGraph owns every GPU resource of the renderer and creates them in
// dependency order. Destruction runs the same order backwards.
type ResourceGraph struct {
	device    Device
	swapchain Swapchain
	options   GraphOptions
	builder   *Builder

	BLAS        *AccelerationStructure
	TLAS        *AccelerationStructure
	SetLayout   metadata.DescriptorSetLayoutHandle
	Pipeline    *Pipeline
	SBT         *ShaderBindingTable
	Descriptors *DescriptorSets
	Frames      *FrameOrchestrator

	stages []*ShaderStage
	built  []graphStep
}

func NewResourceGraph(device Device, swapchain Swapchain, options GraphOptions) (*ResourceGraph, error) {
	if options.FramesInFlight == 0 {
		options.FramesInFlight = DefaultFramesInFlight
	}
	g := &ResourceGraph{
		device:    device,
		swapchain: swapchain,
		options:   options,
		builder:   NewBuilder(device),
	}

	for _, step := range g.steps() {
		core.LogDebug("resource graph: building %s", step.name)
		if err := step.build(); err != nil {
			g.unwind()
			return nil, fmt.Errorf("resource graph step '%s' failed: %w", step.name, err)
		}
		g.built = append(g.built, step)
	}
	core.LogInfo("resource graph built (%d steps)", len(g.built))
	return g, nil
}

func (g *ResourceGraph) steps() []graphStep {
	return []graphStep{
		{
			name: "bottom-level acceleration structure",
			build: func() (err error) {
				g.BLAS, err = g.builder.BuildBottomLevel(g.options.Mesh)
				return err
			},
			destroy: func() {
				if err := g.BLAS.Destroy(); err != nil {
					core.LogError(err.Error())
				}
			},
		},
		{
			name: "top-level acceleration structure",
			build: func() (err error) {
				g.TLAS, err = g.builder.BuildTopLevel([]SceneInstance{InstanceOf(g.BLAS)})
				return err
			},
			destroy: func() {
				if err := g.TLAS.Destroy(); err != nil {
					core.LogError(err.Error())
				}
			},
		},
		{
			name: "descriptor set layout",
			build: func() (err error) {
				g.SetLayout, err = CreateRayTracingSetLayout(g.device)
				return err
			},
			destroy: func() {
				g.device.DestroyDescriptorSetLayout(g.SetLayout)
				g.SetLayout = 0
			},
		},
		{
			name: "shader stages",
			build: func() (err error) {
				g.stages, err = g.loadStages()
				return err
			},
			destroy: func() {
				DestroyShaderStages(g.device, g.stages)
				g.stages = nil
			},
		},
		{
			name: "pipeline",
			build: func() (err error) {
				g.Pipeline, err = BuildPipeline(g.device, g.stages, StandardShaderGroups(), g.SetLayout)
				if err != nil {
					return err
				}
				// The pipeline keeps its own copy of the compiled stages.
				DestroyShaderStages(g.device, g.stages)
				return nil
			},
			destroy: func() {
				g.Pipeline.Destroy()
			},
		},
		{
			name: "shader binding table",
			build: func() (err error) {
				g.SBT, err = NewShaderBindingTable(g.device, g.Pipeline, 1, 1)
				return err
			},
			destroy: func() {
				g.SBT.Destroy()
			},
		},
		{
			name: "descriptor sets",
			build: func() (err error) {
				g.Descriptors, err = NewDescriptorSets(g.device, g.SetLayout, g.TLAS, g.swapchain)
				return err
			},
			destroy: func() {
				g.Descriptors.Destroy()
			},
		},
		{
			name: "frame orchestrator",
			build: func() (err error) {
				g.Frames, err = NewFrameOrchestrator(g.device, g.swapchain, g.options.FramesInFlight, g.Pipeline, g.SBT, g.Descriptors, g.options.Overlay)
				return err
			},
			destroy: func() {
				g.Frames.Destroy()
			},
		},
	}
}

// StepNames lists the build order.
func (g *ResourceGraph) StepNames() []string {
	names := make([]string, 0, len(g.built))
	for _, s := range g.built {
		names = append(names, s.name)
	}
	return names
}

func (g *ResourceGraph) loadStages() ([]*ShaderStage, error) {
	sources := []struct {
		stage metadata.ShaderStageFlags
		path  string
	}{
		{metadata.ShaderStageRaygen, g.options.Shaders.RayGen},
		{metadata.ShaderStageMiss, g.options.Shaders.Miss},
		{metadata.ShaderStageClosestHit, g.options.Shaders.ClosestHit},
	}
	stages := make([]*ShaderStage, 0, len(sources))
	for _, src := range sources {
		s, err := LoadShader(g.device, src.stage, src.path)
		if err != nil {
			DestroyShaderStages(g.device, stages)
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func (g *ResourceGraph) DrawFrame() (FrameResult, error) {
	return g.Frames.DrawFrame()
}

// ReloadPipeline rebuilds the shader stages, the pipeline and the shader
// binding table from the configured binaries. On failure the running
// pipeline is kept.
func (g *ResourceGraph) ReloadPipeline() error {
	if err := g.device.WaitIdle(); err != nil {
		return fmt.Errorf("failed to wait for device idle: %w", err)
	}

	stages, err := g.loadStages()
	if err != nil {
		return err
	}
	pipeline, err := BuildPipeline(g.device, stages, StandardShaderGroups(), g.SetLayout)
	DestroyShaderStages(g.device, stages)
	if err != nil {
		return err
	}
	sbt, err := NewShaderBindingTable(g.device, pipeline, 1, 1)
	if err != nil {
		pipeline.Destroy()
		return err
	}

	oldPipeline, oldSBT := g.Pipeline, g.SBT
	g.Pipeline, g.SBT = pipeline, sbt
	g.Frames.Rebind(pipeline, sbt)
	oldSBT.Destroy()
	oldPipeline.Destroy()

	core.LogInfo("ray tracing pipeline reloaded")
	return nil
}

func (g *ResourceGraph) unwind() {
	for i := len(g.built) - 1; i >= 0; i-- {
		core.LogDebug("resource graph: destroying %s", g.built[i].name)
		g.built[i].destroy()
	}
	g.built = nil
}

// Destroy waits for the device to go idle and releases everything in
// reverse build order.
func (g *ResourceGraph) Destroy() error {
	if err := g.device.WaitIdle(); err != nil {
		return fmt.Errorf("failed to wait for device idle: %w", err)
	}
	g.unwind()
	return nil
}
