package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// VulkanContext holds the instance-wide state of the backend. It implements
// raytracing.Device: every object it creates is handed out as an opaque
// handle from one of its tables.
type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	// Only set when validation is enabled.
	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain      *VulkanSwapchain
	MainRenderpass *VulkanRenderpass

	locks *VulkanLockPool

	// Entry points for ray tracing and Vulkan 1.2 calls.
	rt rayTracingDispatch

	buffers       *core.HandleTable[vk.Buffer]
	memories      *core.HandleTable[vk.DeviceMemory]
	accels        *core.HandleTable[vk.AccelerationStructure]
	shaderModules *core.HandleTable[vk.ShaderModule]
	setLayouts    *core.HandleTable[vk.DescriptorSetLayout]
	pipeLayouts   *core.HandleTable[vk.PipelineLayout]
	pipelines     *core.HandleTable[vk.Pipeline]
	descPools     *core.HandleTable[vk.DescriptorPool]
	descSets      *core.HandleTable[vk.DescriptorSet]
	semaphores    *core.HandleTable[vk.Semaphore]
	fences        *core.HandleTable[*VulkanFence]
	commandPools  *core.HandleTable[vk.CommandPool]
	images        *core.HandleTable[vk.Image]
	imageViews    *core.HandleTable[vk.ImageView]
	framebuffers  *core.HandleTable[*VulkanFramebuffer]

	// Sets allocated from each pool, released together with it.
	poolSets map[metadata.DescriptorPoolHandle][]metadata.DescriptorSetHandle
}

func NewVulkanContext(width, height uint32) *VulkanContext {
	return &VulkanContext{
		FramebufferWidth:  width,
		FramebufferHeight: height,
		Allocator:         nil,
		Device:            &VulkanDevice{},
		locks:             NewVulkanLockPool(),
		buffers:           core.NewHandleTable[vk.Buffer](),
		memories:          core.NewHandleTable[vk.DeviceMemory](),
		accels:            core.NewHandleTable[vk.AccelerationStructure](),
		shaderModules:     core.NewHandleTable[vk.ShaderModule](),
		setLayouts:        core.NewHandleTable[vk.DescriptorSetLayout](),
		pipeLayouts:       core.NewHandleTable[vk.PipelineLayout](),
		pipelines:         core.NewHandleTable[vk.Pipeline](),
		descPools:         core.NewHandleTable[vk.DescriptorPool](),
		descSets:          core.NewHandleTable[vk.DescriptorSet](),
		poolSets:          make(map[metadata.DescriptorPoolHandle][]metadata.DescriptorSetHandle),
		semaphores:        core.NewHandleTable[vk.Semaphore](),
		fences:            core.NewHandleTable[*VulkanFence](),
		commandPools:      core.NewHandleTable[vk.CommandPool](),
		images:            core.NewHandleTable[vk.Image](),
		imageViews:        core.NewHandleTable[vk.ImageView](),
		framebuffers:      core.NewHandleTable[*VulkanFramebuffer](),
	}
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// WaitIdle blocks until the logical device has finished all submitted work.
func (vc *VulkanContext) WaitIdle() error {
	return vc.locks.SafeQueueCall(uint32(vc.Device.GraphicsQueueIndex), func() error {
		if res := vk.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
			return vulkanError("vkDeviceWaitIdle", res)
		}
		return nil
	})
}

// Image lookups are shared with the swapchain, which registers its images
// and views in the context tables.
func (vc *VulkanContext) imageView(handle metadata.ImageViewHandle) vk.ImageView {
	return vc.imageViews.MustGet(uint64(handle))
}

// LiveObjects counts every handle the context has issued and not released.
// It is logged at shutdown to spot leaks.
func (vc *VulkanContext) LiveObjects() int {
	return vc.buffers.Len() + vc.memories.Len() + vc.accels.Len() +
		vc.shaderModules.Len() + vc.setLayouts.Len() + vc.pipeLayouts.Len() +
		vc.pipelines.Len() + vc.descPools.Len() + vc.descSets.Len() +
		vc.semaphores.Len() + vc.fences.Len() + vc.commandPools.Len()
}
