package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/raytracer/engine/assets/loaders"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/math"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// MaxRayRecursionDepth is the requested trace depth: primary rays only.
const MaxRayRecursionDepth uint32 = 1

const (
	BindingAccelerationStructure uint32 = 0
	BindingOutputImage           uint32 = 1
)

/**
 * @brief A compiled shader module and the stage it runs in.
 */
type ShaderStage struct {
	Stage      metadata.ShaderStageFlags
	Module     metadata.ShaderModuleHandle
	Path       string
	EntryPoint string
}

// LoadShader reads a SPIR-V binary and creates a shader module from it.
func LoadShader(device Device, stage metadata.ShaderStageFlags, path string) (*ShaderStage, error) {
	loader := &loaders.ShaderLoader{}
	res, err := loader.Load(path, metadata.ResourceTypeShader, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s shader: %w", stage, err)
	}
	code, ok := res.Data.([]uint32)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidShaderBinary, path)
	}

	module, err := device.CreateShaderModule(code)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s shader module from '%s': %w", stage, path, err)
	}
	core.LogDebug("%s shader module loaded from '%s' (%d bytes)", stage, path, res.DataSize)
	return &ShaderStage{
		Stage:      stage,
		Module:     module,
		Path:       path,
		EntryPoint: "main",
	}, nil
}

func (s *ShaderStage) Destroy(device Device) {
	if s.Module == 0 {
		return
	}
	device.DestroyShaderModule(s.Module)
	s.Module = 0
}

func DestroyShaderStages(device Device, stages []*ShaderStage) {
	for _, s := range stages {
		if s != nil {
			s.Destroy(device)
		}
	}
}

// StandardShaderGroups returns the raygen, miss and triangle hit groups over
// stages ordered raygen, miss, closest hit.
func StandardShaderGroups() []metadata.ShaderGroup {
	return []metadata.ShaderGroup{
		{
			Type:         metadata.ShaderGroupTypeGeneral,
			General:      0,
			ClosestHit:   metadata.ShaderUnused,
			AnyHit:       metadata.ShaderUnused,
			Intersection: metadata.ShaderUnused,
		},
		{
			Type:         metadata.ShaderGroupTypeGeneral,
			General:      1,
			ClosestHit:   metadata.ShaderUnused,
			AnyHit:       metadata.ShaderUnused,
			Intersection: metadata.ShaderUnused,
		},
		{
			Type:         metadata.ShaderGroupTypeTrianglesHitGroup,
			General:      metadata.ShaderUnused,
			ClosestHit:   2,
			AnyHit:       metadata.ShaderUnused,
			Intersection: metadata.ShaderUnused,
		},
	}
}

// RayTracingDescriptorBindings is the layout of the only descriptor set:
// the top-level structure and the output image, both read by raygen.
func RayTracingDescriptorBindings() []metadata.DescriptorBinding {
	return []metadata.DescriptorBinding{
		{
			Binding: BindingAccelerationStructure,
			Type:    metadata.DescriptorTypeAccelerationStructure,
			Count:   1,
			Stages:  metadata.ShaderStageRaygen,
		},
		{
			Binding: BindingOutputImage,
			Type:    metadata.DescriptorTypeStorageImage,
			Count:   1,
			Stages:  metadata.ShaderStageRaygen,
		},
	}
}

func CreateRayTracingSetLayout(device Device) (metadata.DescriptorSetLayoutHandle, error) {
	layout, err := device.CreateDescriptorSetLayout(RayTracingDescriptorBindings())
	if err != nil {
		return 0, fmt.Errorf("failed to create descriptor set layout: %w", err)
	}
	return layout, nil
}

// ValidateShaderGroups checks every group slot against the stage it indexes.
func ValidateShaderGroups(stages []*ShaderStage, groups []metadata.ShaderGroup) error {
	stageAt := func(group int, slot string, idx uint32, allowed ...metadata.ShaderStageFlags) error {
		if idx == metadata.ShaderUnused {
			return nil
		}
		if int(idx) >= len(stages) {
			return fmt.Errorf("%w: group %d %s index %d out of range (stages=%d)", core.ErrInvalidShaderGroup, group, slot, idx, len(stages))
		}
		for _, a := range allowed {
			if stages[idx].Stage == a {
				return nil
			}
		}
		return fmt.Errorf("%w: group %d %s references a %s stage", core.ErrInvalidShaderGroup, group, slot, stages[idx].Stage)
	}
	unused := func(group int, slot string, idx uint32) error {
		if idx != metadata.ShaderUnused {
			return fmt.Errorf("%w: group %d must not set %s", core.ErrInvalidShaderGroup, group, slot)
		}
		return nil
	}

	if len(groups) == 0 {
		return fmt.Errorf("%w: no shader groups", core.ErrInvalidShaderGroup)
	}
	for i, g := range groups {
		var checks []error
		switch g.Type {
		case metadata.ShaderGroupTypeGeneral:
			if g.General == metadata.ShaderUnused {
				return fmt.Errorf("%w: general group %d has no shader", core.ErrInvalidShaderGroup, i)
			}
			checks = []error{
				stageAt(i, "general", g.General, metadata.ShaderStageRaygen, metadata.ShaderStageMiss),
				unused(i, "closest hit", g.ClosestHit),
				unused(i, "any hit", g.AnyHit),
				unused(i, "intersection", g.Intersection),
			}
		case metadata.ShaderGroupTypeTrianglesHitGroup:
			if g.ClosestHit == metadata.ShaderUnused && g.AnyHit == metadata.ShaderUnused {
				return fmt.Errorf("%w: hit group %d has no hit shader", core.ErrInvalidShaderGroup, i)
			}
			checks = []error{
				unused(i, "general", g.General),
				stageAt(i, "closest hit", g.ClosestHit, metadata.ShaderStageClosestHit),
				stageAt(i, "any hit", g.AnyHit, metadata.ShaderStageAnyHit),
				unused(i, "intersection", g.Intersection),
			}
		case metadata.ShaderGroupTypeProceduralHitGroup:
			if g.Intersection == metadata.ShaderUnused {
				return fmt.Errorf("%w: procedural group %d has no intersection shader", core.ErrInvalidShaderGroup, i)
			}
			checks = []error{
				unused(i, "general", g.General),
				stageAt(i, "closest hit", g.ClosestHit, metadata.ShaderStageClosestHit),
				stageAt(i, "any hit", g.AnyHit, metadata.ShaderStageAnyHit),
				stageAt(i, "intersection", g.Intersection, metadata.ShaderStageIntersection),
			}
		default:
			return fmt.Errorf("%w: group %d has unknown type %d", core.ErrInvalidShaderGroup, i, g.Type)
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

/**
 * @brief Holds a ray-tracing pipeline and its layout.
 */
type Pipeline struct {
	Handle         metadata.PipelineHandle
	Layout         metadata.PipelineLayoutHandle
	GroupCount     uint32
	RecursionDepth uint32

	device Device
}

// BuildPipeline creates the pipeline layout over setLayout and the
// ray-tracing pipeline over the given stages and groups.
func BuildPipeline(device Device, stages []*ShaderStage, groups []metadata.ShaderGroup, setLayout metadata.DescriptorSetLayoutHandle) (*Pipeline, error) {
	if err := ValidateShaderGroups(stages, groups); err != nil {
		return nil, err
	}

	layout, err := device.CreatePipelineLayout(setLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline layout: %w", err)
	}

	props := device.RayTracingProperties()
	depth := math.Clamp(MaxRayRecursionDepth, 0, props.MaxRayRecursionDepth)
	if depth < MaxRayRecursionDepth {
		core.LogWarn("device limits ray recursion depth to %d", depth)
	}

	handle, err := device.CreateRayTracingPipeline(layout, stages, groups, depth)
	if err != nil {
		device.DestroyPipelineLayout(layout)
		return nil, fmt.Errorf("failed to create ray tracing pipeline: %w", err)
	}
	core.LogInfo("ray tracing pipeline created: %d stages, %d groups, recursion depth %d", len(stages), len(groups), depth)

	return &Pipeline{
		Handle:         handle,
		Layout:         layout,
		GroupCount:     uint32(len(groups)),
		RecursionDepth: depth,
		device:         device,
	}, nil
}

func (p *Pipeline) Destroy() {
	if p.Handle != 0 {
		p.device.DestroyPipeline(p.Handle)
		p.Handle = 0
	}
	if p.Layout != 0 {
		p.device.DestroyPipelineLayout(p.Layout)
		p.Layout = 0
	}
}
