package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in render pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	default:
		return "not allocated"
	}
}

// VulkanCommandBuffer is a primary command buffer. It implements
// raytracing.CommandBuffer.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	context *VulkanContext
	pool    vk.CommandPool
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
		pool:    pool,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return vulkanError("vkAllocateCommandBuffers", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free() {
	_ = v.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(oneTimeSubmit bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return vulkanError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		err := fmt.Errorf("cannot end command buffer in state '%s'", v.State)
		core.LogError(err.Error())
		return err
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return vulkanError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

func (v *VulkanCommandBuffer) PipelineBarrier(barrier metadata.ImageBarrier) {
	imageBarrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(barrier.SrcAccess),
		DstAccessMask:       vk.AccessFlags(barrier.DstAccess),
		OldLayout:           vk.ImageLayout(barrier.OldLayout),
		NewLayout:           vk.ImageLayout(barrier.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               v.context.images.MustGet(uint64(barrier.Image)),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	vk.CmdPipelineBarrier(
		v.Handle,
		vk.PipelineStageFlags(barrier.SrcStage),
		vk.PipelineStageFlags(barrier.DstStage),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{imageBarrier},
	)
}

func (v *VulkanCommandBuffer) BindRayTracingPipeline(pipeline metadata.PipelineHandle) {
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointRayTracing, v.context.pipelines.MustGet(uint64(pipeline)))
}

func (v *VulkanCommandBuffer) BindRayTracingDescriptorSet(layout metadata.PipelineLayoutHandle, set metadata.DescriptorSetHandle) {
	vk.CmdBindDescriptorSets(
		v.Handle,
		vk.PipelineBindPointRayTracing,
		v.context.pipeLayouts.MustGet(uint64(layout)),
		0,
		1, []vk.DescriptorSet{v.context.descSets.MustGet(uint64(set))},
		0, nil)
}

func (v *VulkanCommandBuffer) TraceRays(raygen, miss, hit, callable metadata.StridedDeviceAddressRegion, width, height, depth uint32) {
	var mem cMemory
	defer mem.free()

	regions := newTraceRegions(&mem, raygen, miss, hit, callable)
	v.context.rt.traceRays(v.Handle, regions, width, height, depth)
}

func (v *VulkanCommandBuffer) BeginRenderPass(framebuffer metadata.FramebufferHandle, extent metadata.Extent2D) {
	fb := v.context.framebuffers.MustGet(uint64(framebuffer))
	v.context.MainRenderpass.RenderpassBegin(v, fb.Handle, extent)
}

func (v *VulkanCommandBuffer) ClearRect(rect metadata.Rect2D, color [4]float32) {
	var clearValue vk.ClearValue
	clearValue.SetColor(color[:])

	attachment := vk.ClearAttachment{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      clearValue,
	}
	clearRect := vk.ClearRect{
		Rect: vk.Rect2D{
			Offset: vk.Offset2D{X: rect.X, Y: rect.Y},
			Extent: vk.Extent2D{Width: rect.Width, Height: rect.Height},
		},
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	vk.CmdClearAttachments(v.Handle, 1, []vk.ClearAttachment{attachment}, 1, []vk.ClearRect{clearRect})
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	v.context.MainRenderpass.RenderpassEnd(v)
}

func (vc *VulkanContext) CreateCommandPool() (metadata.CommandPoolHandle, error) {
	pool, err := vc.newCommandPool(vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit))
	if err != nil {
		return 0, err
	}
	return metadata.CommandPoolHandle(vc.commandPools.Acquire(pool)), nil
}

func (vc *VulkanContext) newCommandPool(flags vk.CommandPoolCreateFlags) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(vc.Device.GraphicsQueueIndex),
		Flags:            flags,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(vc.Device.LogicalDevice, &poolCreateInfo, vc.Allocator, &pool); res != vk.Success {
		return nil, vulkanError("vkCreateCommandPool", res)
	}
	return pool, nil
}

// DestroyCommandPool also frees every command buffer allocated from the pool.
func (vc *VulkanContext) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	p, err := vc.commandPools.Release(uint64(pool))
	if err != nil {
		core.LogWarn("destroy command pool: %s", err)
		return
	}
	_ = vc.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(vc.Device.LogicalDevice, p, vc.Allocator)
		return nil
	})
}

func (vc *VulkanContext) ResetCommandPool(pool metadata.CommandPoolHandle) error {
	p := vc.commandPools.MustGet(uint64(pool))
	return vc.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.ResetCommandPool(vc.Device.LogicalDevice, p, 0); res != vk.Success {
			return vulkanError("vkResetCommandPool", res)
		}
		return nil
	})
}

func (vc *VulkanContext) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (raytracing.CommandBuffer, error) {
	return NewVulkanCommandBuffer(vc, vc.commandPools.MustGet(uint64(pool)))
}

func (vc *VulkanContext) Submit(info raytracing.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*VulkanCommandBuffer)
	if !ok {
		err := fmt.Errorf("cannot submit command buffer of type %T", info.CommandBuffer)
		core.LogError(err.Error())
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	// Wait semaphore ensures that the operation cannot begin until the image is available.
	if info.Wait != 0 {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{vc.semaphore(info.Wait)}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(info.WaitStage)}
	}
	if info.Signal != 0 {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{vc.semaphore(info.Signal)}
	}

	fence := vk.NullFence
	if info.Fence != 0 {
		fence = vc.fences.MustGet(uint64(info.Fence)).Handle
	}

	err := vc.locks.SafeQueueCall(uint32(vc.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(vc.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			return vulkanError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	vc.markSubmitted(info.Fence)
	cb.UpdateSubmitted()
	return nil
}

// ExecuteSingleUse records into a one-shot buffer from the graphics command
// pool, submits it and waits for the graphics queue to go idle.
func (vc *VulkanContext) ExecuteSingleUse(record func(cmd raytracing.CommandBuffer) error) error {
	cb, err := NewVulkanCommandBuffer(vc, vc.Device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	defer cb.Free()

	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	return vc.locks.SafeQueueCall(uint32(vc.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(vc.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			return vulkanError("vkQueueSubmit (single use)", res)
		}
		// Wait for it to finish
		if res := vk.QueueWaitIdle(vc.Device.GraphicsQueue); res != vk.Success {
			return vulkanError("vkQueueWaitIdle", res)
		}
		return nil
	})
}
