package raytracing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// Buffer is a device buffer bound to its own memory allocation.
type Buffer struct {
	ID         uuid.UUID
	Size       uint64
	Usage      metadata.BufferUsageFlags
	Properties metadata.MemoryPropertyFlags
	Handle     metadata.BufferHandle
	Memory     metadata.MemoryHandle

	device  Device
	address metadata.DeviceAddress
	mapped  []byte
}

// NewBuffer creates a buffer, allocates and binds its memory and, when
// initialData is given, copies it in through a host mapping.
func NewBuffer(device Device, size uint64, usage metadata.BufferUsageFlags, properties metadata.MemoryPropertyFlags, initialData []byte) (*Buffer, error) {
	if size == 0 {
		return nil, core.ErrInvalidBufferSize
	}
	if initialData != nil {
		if uint64(len(initialData)) != size {
			return nil, fmt.Errorf("%w: %d != %d", core.ErrInitialDataSize, len(initialData), size)
		}
		if properties&metadata.MemoryPropertyHostVisible == 0 {
			return nil, core.ErrBufferNotHostVisible
		}
	}

	b := &Buffer{
		ID:         uuid.New(),
		Size:       size,
		Usage:      usage,
		Properties: properties,
		device:     device,
	}

	handle, err := device.CreateBuffer(size, usage)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer of %d bytes: %w", size, err)
	}
	b.Handle = handle

	wantsAddress := usage&metadata.BufferUsageShaderDeviceAddress != 0
	requirements := device.BufferMemoryRequirements(handle)
	memory, err := device.AllocateMemory(requirements, properties, wantsAddress)
	if err != nil {
		device.DestroyBuffer(handle)
		return nil, fmt.Errorf("failed to allocate %d bytes for buffer %s: %w", requirements.Size, b.ID, err)
	}
	b.Memory = memory

	if err := device.BindBufferMemory(handle, memory); err != nil {
		device.DestroyBuffer(handle)
		device.FreeMemory(memory)
		return nil, fmt.Errorf("failed to bind memory for buffer %s: %w", b.ID, err)
	}

	if wantsAddress {
		b.address = device.BufferDeviceAddress(handle)
	}

	if initialData != nil {
		dst, err := b.Map()
		if err != nil {
			b.Destroy()
			return nil, err
		}
		copy(dst, initialData)
		b.Unmap()
	}

	core.LogDebug("buffer %s created: size=%d usage=0x%x properties=0x%x", b.ID, size, uint32(usage), uint32(properties))
	return b, nil
}

// Map exposes the whole buffer to the host. Only one mapping may be live.
func (b *Buffer) Map() ([]byte, error) {
	if b.Properties&metadata.MemoryPropertyHostVisible == 0 {
		return nil, core.ErrBufferNotHostVisible
	}
	if b.mapped != nil {
		return nil, core.ErrBufferAlreadyMapped
	}
	data, err := b.device.MapMemory(b.Memory, b.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to map buffer %s: %w", b.ID, err)
	}
	b.mapped = data
	return data, nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.device.UnmapMemory(b.Memory)
	b.mapped = nil
}

func (b *Buffer) DeviceAddress() (metadata.DeviceAddress, error) {
	if b.Usage&metadata.BufferUsageShaderDeviceAddress == 0 {
		return 0, core.ErrNoDeviceAddress
	}
	return b.address, nil
}

func (b *Buffer) Destroy() {
	if b.Handle == 0 {
		return
	}
	b.Unmap()
	b.device.DestroyBuffer(b.Handle)
	b.device.FreeMemory(b.Memory)
	b.Handle = 0
	b.Memory = 0
	b.address = 0
	core.LogDebug("buffer %s destroyed", b.ID)
}
