// Package raytracing builds and drives the GPU ray-tracing resources: buffers,
// acceleration structures, the ray-tracing pipeline, its shader binding table
// and the per-frame loop that records and submits trace commands.
//
// Nothing in this package talks to a graphics API directly. The device layer
// is reached through the Device, CommandBuffer and Swapchain interfaces.
package raytracing

import (
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// Device is the subset of a logical GPU device the ray-tracing core needs.
// Creation methods return an error for any device failure; the core treats
// every such error as fatal.
type Device interface {
	CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, error)
	BufferMemoryRequirements(buffer metadata.BufferHandle) metadata.MemoryRequirements
	// AllocateMemory makes the allocation address-capable when deviceAddress is set.
	AllocateMemory(requirements metadata.MemoryRequirements, properties metadata.MemoryPropertyFlags, deviceAddress bool) (metadata.MemoryHandle, error)
	BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle) error
	MapMemory(memory metadata.MemoryHandle, size uint64) ([]byte, error)
	UnmapMemory(memory metadata.MemoryHandle)
	BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress
	DestroyBuffer(buffer metadata.BufferHandle)
	FreeMemory(memory metadata.MemoryHandle)

	AccelerationStructureBuildSizes(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, primitiveCount uint32) metadata.AccelerationStructureBuildSizes
	CreateAccelerationStructure(asType metadata.AccelerationStructureType, buffer metadata.BufferHandle, size uint64) (metadata.AccelerationStructureHandle, error)
	AccelerationStructureDeviceAddress(as metadata.AccelerationStructureHandle) metadata.DeviceAddress
	DestroyAccelerationStructure(as metadata.AccelerationStructureHandle)

	// ExecuteSingleUse records commands into a one-shot command buffer, submits
	// it and blocks until the queue has finished executing it.
	ExecuteSingleUse(record func(cmd CommandBuffer) error) error

	CreateShaderModule(code []uint32) (metadata.ShaderModuleHandle, error)
	DestroyShaderModule(module metadata.ShaderModuleHandle)
	CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle)
	CreatePipelineLayout(setLayout metadata.DescriptorSetLayoutHandle) (metadata.PipelineLayoutHandle, error)
	DestroyPipelineLayout(layout metadata.PipelineLayoutHandle)
	CreateRayTracingPipeline(layout metadata.PipelineLayoutHandle, stages []*ShaderStage, groups []metadata.ShaderGroup, maxRecursionDepth uint32) (metadata.PipelineHandle, error)
	DestroyPipeline(pipeline metadata.PipelineHandle)
	RayTracingShaderGroupHandles(pipeline metadata.PipelineHandle, groupCount uint32, dataSize int) ([]byte, error)
	RayTracingProperties() metadata.RayTracingProperties

	CreateDescriptorPool(sizes []metadata.DescriptorPoolSize, maxSets uint32) (metadata.DescriptorPoolHandle, error)
	DestroyDescriptorPool(pool metadata.DescriptorPoolHandle)
	AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layout metadata.DescriptorSetLayoutHandle, count uint32) ([]metadata.DescriptorSetHandle, error)
	// WriteDescriptorSet binds the structure to binding 0 and the view to binding 1.
	WriteDescriptorSet(set metadata.DescriptorSetHandle, as metadata.AccelerationStructureHandle, view metadata.ImageViewHandle)

	CreateSemaphore() (metadata.SemaphoreHandle, error)
	DestroySemaphore(semaphore metadata.SemaphoreHandle)
	CreateFence(signaled bool) (metadata.FenceHandle, error)
	DestroyFence(fence metadata.FenceHandle)
	WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error
	ResetFence(fence metadata.FenceHandle) error
	CreateCommandPool() (metadata.CommandPoolHandle, error)
	DestroyCommandPool(pool metadata.CommandPoolHandle)
	ResetCommandPool(pool metadata.CommandPoolHandle) error
	AllocateCommandBuffer(pool metadata.CommandPoolHandle) (CommandBuffer, error)
	Submit(info SubmitInfo) error
	WaitIdle() error
}

// CommandBuffer records work for the graphics queue.
type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	End() error

	BuildAccelerationStructure(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, dst metadata.AccelerationStructureHandle, scratch metadata.DeviceAddress, primitiveCount uint32)
	PipelineBarrier(barrier metadata.ImageBarrier)
	BindRayTracingPipeline(pipeline metadata.PipelineHandle)
	BindRayTracingDescriptorSet(layout metadata.PipelineLayoutHandle, set metadata.DescriptorSetHandle)
	TraceRays(raygen, miss, hit, callable metadata.StridedDeviceAddressRegion, width, height, depth uint32)

	BeginRenderPass(framebuffer metadata.FramebufferHandle, extent metadata.Extent2D)
	// ClearRect fills an area of the current color attachment. Only valid inside a render pass.
	ClearRect(rect metadata.Rect2D, color [4]float32)
	EndRenderPass()
}

// Swapchain is the set of presentable images of the window surface.
// AcquireNextImage and Present report a surface that no longer matches the
// swapchain with core.ErrSwapchainOutOfDate or core.ErrSwapchainSuboptimal.
type Swapchain interface {
	ImageCount() uint32
	Extent() metadata.Extent2D
	Image(index uint32) metadata.ImageHandle
	ImageView(index uint32) metadata.ImageViewHandle
	Framebuffer(index uint32) metadata.FramebufferHandle
	AcquireNextImage(signal metadata.SemaphoreHandle) (uint32, error)
	Present(imageIndex uint32, wait metadata.SemaphoreHandle) error
}

// Overlay records its draw data inside the render pass that follows the trace.
type Overlay interface {
	Record(cmd CommandBuffer, extent metadata.Extent2D)
}

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	Wait          metadata.SemaphoreHandle
	WaitStage     metadata.PipelineStageFlags
	Signal        metadata.SemaphoreHandle
	Fence         metadata.FenceHandle
}
