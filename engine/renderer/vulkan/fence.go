package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, vulkanError("vkCreateFence", res)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled {
		// If already signaled, do not wait.
		return nil
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	}
	return vulkanError("vkWaitForFences", result)
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return vulkanError("vkResetFences", res)
	}
	vf.IsSignaled = false
	return nil
}

func (vc *VulkanContext) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	f, err := NewFence(vc, signaled)
	if err != nil {
		return 0, err
	}
	return metadata.FenceHandle(vc.fences.Acquire(f)), nil
}

func (vc *VulkanContext) DestroyFence(fence metadata.FenceHandle) {
	f, err := vc.fences.Release(uint64(fence))
	if err != nil {
		core.LogWarn("destroy fence: %s", err)
		return
	}
	f.FenceDestroy(vc)
}

func (vc *VulkanContext) WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error {
	return vc.fences.MustGet(uint64(fence)).FenceWait(vc, timeoutNs)
}

func (vc *VulkanContext) ResetFence(fence metadata.FenceHandle) error {
	return vc.fences.MustGet(uint64(fence)).FenceReset(vc)
}

// markSubmitted records that fence will be signaled by the queue.
func (vc *VulkanContext) markSubmitted(fence metadata.FenceHandle) {
	if fence == 0 {
		return
	}
	vc.fences.MustGet(uint64(fence)).IsSignaled = false
}

func (vc *VulkanContext) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(vc.Device.LogicalDevice, &semaphoreCreateInfo, vc.Allocator, &semaphore); res != vk.Success {
		return 0, vulkanError("vkCreateSemaphore", res)
	}
	return metadata.SemaphoreHandle(vc.semaphores.Acquire(semaphore)), nil
}

func (vc *VulkanContext) DestroySemaphore(semaphore metadata.SemaphoreHandle) {
	s, err := vc.semaphores.Release(uint64(semaphore))
	if err != nil {
		core.LogWarn("destroy semaphore: %s", err)
		return
	}
	vk.DestroySemaphore(vc.Device.LogicalDevice, s, vc.Allocator)
}

func (vc *VulkanContext) semaphore(handle metadata.SemaphoreHandle) vk.Semaphore {
	if handle == 0 {
		return vk.NullSemaphore
	}
	return vc.semaphores.MustGet(uint64(handle))
}
