package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

func (vc *VulkanContext) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive, // NOTE: Only used in one queue.
	}

	var buffer vk.Buffer
	if res := vk.CreateBuffer(vc.Device.LogicalDevice, &bufferInfo, vc.Allocator, &buffer); res != vk.Success {
		return 0, vulkanError("vkCreateBuffer", res)
	}
	return metadata.BufferHandle(vc.buffers.Acquire(buffer)), nil
}

func (vc *VulkanContext) BufferMemoryRequirements(buffer metadata.BufferHandle) metadata.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(vc.Device.LogicalDevice, vc.buffers.MustGet(uint64(buffer)), &requirements)
	requirements.Deref()

	return metadata.MemoryRequirements{
		Size:           uint64(requirements.Size),
		Alignment:      uint64(requirements.Alignment),
		MemoryTypeBits: requirements.MemoryTypeBits,
	}
}

func (vc *VulkanContext) AllocateMemory(requirements metadata.MemoryRequirements, properties metadata.MemoryPropertyFlags, deviceAddress bool) (metadata.MemoryHandle, error) {
	memoryIndex := vc.FindMemoryIndex(requirements.MemoryTypeBits, uint32(properties))
	if memoryIndex == -1 {
		err := fmt.Errorf("%w: type bits 0x%x, properties 0x%x", core.ErrNoSuitableMemoryType, requirements.MemoryTypeBits, uint32(properties))
		core.LogError(err.Error())
		return 0, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(requirements.Size),
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var mem cMemory
	defer mem.free()
	if deviceAddress {
		allocateInfo.PNext = newMemoryAllocateFlagsInfo(&mem).pointer()
	}

	var memory vk.DeviceMemory
	err := vc.locks.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(vc.Device.LogicalDevice, &allocateInfo, vc.Allocator, &memory); res != vk.Success {
			return vulkanError(fmt.Sprintf("vkAllocateMemory (%d bytes)", requirements.Size), res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return metadata.MemoryHandle(vc.memories.Acquire(memory)), nil
}

func (vc *VulkanContext) BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle) error {
	res := vk.BindBufferMemory(vc.Device.LogicalDevice, vc.buffers.MustGet(uint64(buffer)), vc.memories.MustGet(uint64(memory)), 0)
	if res != vk.Success {
		return vulkanError("vkBindBufferMemory", res)
	}
	return nil
}

// MapMemory maps the whole allocation and exposes it as a byte slice of size bytes.
func (vc *VulkanContext) MapMemory(memory metadata.MemoryHandle, size uint64) ([]byte, error) {
	var data unsafe.Pointer
	res := vk.MapMemory(vc.Device.LogicalDevice, vc.memories.MustGet(uint64(memory)), 0, vk.DeviceSize(size), 0, &data)
	if res != vk.Success {
		return nil, vulkanError("vkMapMemory", res)
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (vc *VulkanContext) UnmapMemory(memory metadata.MemoryHandle) {
	vk.UnmapMemory(vc.Device.LogicalDevice, vc.memories.MustGet(uint64(memory)))
}

func (vc *VulkanContext) BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress {
	var mem cMemory
	defer mem.free()

	info := newBufferDeviceAddressInfo(&mem, handleBits(unsafe.Pointer(vc.buffers.MustGet(uint64(buffer)))))
	return metadata.DeviceAddress(vc.rt.bufferDeviceAddress(vc.Device.LogicalDevice, info))
}

func (vc *VulkanContext) DestroyBuffer(buffer metadata.BufferHandle) {
	b, err := vc.buffers.Release(uint64(buffer))
	if err != nil {
		core.LogWarn("destroy buffer: %s", err)
		return
	}
	vk.DestroyBuffer(vc.Device.LogicalDevice, b, vc.Allocator)
}

func (vc *VulkanContext) FreeMemory(memory metadata.MemoryHandle) {
	m, err := vc.memories.Release(uint64(memory))
	if err != nil {
		core.LogWarn("free memory: %s", err)
		return
	}
	_ = vc.locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(vc.Device.LogicalDevice, m, vc.Allocator)
		return nil
	})
}
