package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
)

func (vc *VulkanContext) CreateShaderModule(code []uint32) (metadata.ShaderModuleHandle, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType: vk.StructureTypeShaderModuleCreateInfo,
		// Size in bytes.
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}

	var module vk.ShaderModule
	if res := vk.CreateShaderModule(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &module); res != vk.Success {
		return 0, vulkanError("vkCreateShaderModule", res)
	}
	return metadata.ShaderModuleHandle(vc.shaderModules.Acquire(module)), nil
}

func (vc *VulkanContext) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	m, err := vc.shaderModules.Release(uint64(module))
	if err != nil {
		core.LogWarn("destroy shader module: %s", err)
		return
	}
	vk.DestroyShaderModule(vc.Device.LogicalDevice, m, vc.Allocator)
}

func (vc *VulkanContext) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.DescriptorSetLayoutHandle, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}

	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &layout); res != vk.Success {
		return 0, vulkanError("vkCreateDescriptorSetLayout", res)
	}
	return metadata.DescriptorSetLayoutHandle(vc.setLayouts.Acquire(layout)), nil
}

func (vc *VulkanContext) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	l, err := vc.setLayouts.Release(uint64(layout))
	if err != nil {
		core.LogWarn("destroy descriptor set layout: %s", err)
		return
	}
	vk.DestroyDescriptorSetLayout(vc.Device.LogicalDevice, l, vc.Allocator)
}

func (vc *VulkanContext) CreatePipelineLayout(setLayout metadata.DescriptorSetLayoutHandle) (metadata.PipelineLayoutHandle, error) {
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{vc.setLayouts.MustGet(uint64(setLayout))},
	}

	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &layout); res != vk.Success {
		return 0, vulkanError("vkCreatePipelineLayout", res)
	}
	return metadata.PipelineLayoutHandle(vc.pipeLayouts.Acquire(layout)), nil
}

func (vc *VulkanContext) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	l, err := vc.pipeLayouts.Release(uint64(layout))
	if err != nil {
		core.LogWarn("destroy pipeline layout: %s", err)
		return
	}
	vk.DestroyPipelineLayout(vc.Device.LogicalDevice, l, vc.Allocator)
}

func (vc *VulkanContext) CreateRayTracingPipeline(layout metadata.PipelineLayoutHandle, stages []*raytracing.ShaderStage, groups []metadata.ShaderGroup, maxRecursionDepth uint32) (metadata.PipelineHandle, error) {
	stageInfos := make([]shaderStageInfo, len(stages))
	for i, s := range stages {
		entryPoint := s.EntryPoint
		if entryPoint == "" {
			entryPoint = VULKAN_SHADER_ENTRY_POINT
		}
		stageInfos[i] = shaderStageInfo{
			stage:      s.Stage,
			module:     handleBits(unsafe.Pointer(vc.shaderModules.MustGet(uint64(s.Module)))),
			entryPoint: entryPoint,
		}
	}

	var mem cMemory
	defer mem.free()
	createInfo := newRayTracingPipelineCreateInfo(&mem, stageInfos, groups, maxRecursionDepth,
		handleBits(unsafe.Pointer(vc.pipeLayouts.MustGet(uint64(layout)))))

	var pipeline vk.Pipeline
	err := vc.locks.SafeCall(PipelineManagement, func() error {
		if res := vc.rt.createRayTracingPipeline(vc.Device.LogicalDevice, createInfo, &pipeline); res != vk.Success {
			return vulkanError("vkCreateRayTracingPipelinesKHR", res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	core.LogDebug("ray tracing pipeline created with %d stages and %d groups", len(stageInfos), len(groups))
	return metadata.PipelineHandle(vc.pipelines.Acquire(pipeline)), nil
}

func (vc *VulkanContext) DestroyPipeline(pipeline metadata.PipelineHandle) {
	p, err := vc.pipelines.Release(uint64(pipeline))
	if err != nil {
		core.LogWarn("destroy pipeline: %s", err)
		return
	}
	_ = vc.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(vc.Device.LogicalDevice, p, vc.Allocator)
		return nil
	})
}

func (vc *VulkanContext) RayTracingShaderGroupHandles(pipeline metadata.PipelineHandle, groupCount uint32, dataSize int) ([]byte, error) {
	if dataSize <= 0 {
		err := fmt.Errorf("%w: %d bytes", core.ErrShaderHandleSize, dataSize)
		core.LogError(err.Error())
		return nil, err
	}
	data := make([]byte, dataSize)
	res := vc.rt.shaderGroupHandles(vc.Device.LogicalDevice, vc.pipelines.MustGet(uint64(pipeline)), groupCount, data)
	if res != vk.Success {
		return nil, vulkanError("vkGetRayTracingShaderGroupHandlesKHR", res)
	}
	return data, nil
}

func (vc *VulkanContext) RayTracingProperties() metadata.RayTracingProperties {
	return vc.Device.RayTracingProperties
}
