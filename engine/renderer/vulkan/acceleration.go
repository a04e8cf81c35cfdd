package vulkan

import (
	"encoding/binary"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// Size of the largest member of the geometry data union (triangles).
const geometryDataSize = 64

// encodeGeometryData lays out the triangles or instances member of the
// geometry data union exactly as the driver reads it.
func encodeGeometryData(g metadata.AccelerationStructureGeometry) [geometryDataSize]byte {
	var out [geometryDataSize]byte
	le := binary.LittleEndian

	switch g.Type {
	case metadata.GeometryTypeTriangles:
		t := g.Triangles
		le.PutUint32(out[0:], uint32(vk.StructureTypeAccelerationStructureGeometryTrianglesData))
		// pNext at 8 stays nil.
		le.PutUint32(out[16:], uint32(vk.FormatR32g32b32Sfloat))
		le.PutUint64(out[24:], uint64(t.VertexData))
		le.PutUint64(out[32:], t.VertexStride)
		le.PutUint32(out[40:], t.MaxVertex)
		le.PutUint32(out[44:], uint32(vk.IndexTypeUint32))
		le.PutUint64(out[48:], uint64(t.IndexData))
		// No transform data at 56.
	case metadata.GeometryTypeInstances:
		le.PutUint32(out[0:], uint32(vk.StructureTypeAccelerationStructureGeometryInstancesData))
		// arrayOfPointers at 16 is false: the instances are tightly packed.
		le.PutUint64(out[24:], uint64(g.Instances.Data))
	}
	return out
}

func (vc *VulkanContext) AccelerationStructureBuildSizes(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, primitiveCount uint32) metadata.AccelerationStructureBuildSizes {
	var mem cMemory
	defer mem.free()

	buildInfo := newBuildGeometryInfo(&mem, asType, newAccelerationStructureGeometry(&mem, geometry), 0, 0)
	sizes := newBuildSizesInfo(&mem)
	vc.rt.buildSizes(vc.Device.LogicalDevice, buildInfo, primitiveCount, sizes)
	return buildSizes(sizes)
}

func (vc *VulkanContext) CreateAccelerationStructure(asType metadata.AccelerationStructureType, buffer metadata.BufferHandle, size uint64) (metadata.AccelerationStructureHandle, error) {
	var mem cMemory
	defer mem.free()

	storage := vc.buffers.MustGet(uint64(buffer))
	createInfo := newAccelerationStructureCreateInfo(&mem, asType, handleBits(unsafe.Pointer(storage)), size)

	var as vk.AccelerationStructure
	err := vc.locks.SafeCall(AccelerationStructures, func() error {
		if res := vc.rt.createAccelerationStructureKHR(vc.Device.LogicalDevice, createInfo, &as); res != vk.Success {
			return vulkanError("vkCreateAccelerationStructureKHR ("+asType.String()+")", res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return metadata.AccelerationStructureHandle(vc.accels.Acquire(as)), nil
}

func (vc *VulkanContext) AccelerationStructureDeviceAddress(as metadata.AccelerationStructureHandle) metadata.DeviceAddress {
	var mem cMemory
	defer mem.free()

	info := newAccelerationStructureAddressInfo(&mem, vc.accelerationStructureBits(as))
	return metadata.DeviceAddress(vc.rt.accelerationStructureDeviceAddress(vc.Device.LogicalDevice, info))
}

func (vc *VulkanContext) DestroyAccelerationStructure(as metadata.AccelerationStructureHandle) {
	handle, err := vc.accels.Release(uint64(as))
	if err != nil {
		core.LogWarn("destroy acceleration structure: %s", err)
		return
	}
	_ = vc.locks.SafeCall(AccelerationStructures, func() error {
		vc.rt.destroyAccelerationStructureKHR(vc.Device.LogicalDevice, handle)
		return nil
	})
}

func (vc *VulkanContext) accelerationStructureBits(as metadata.AccelerationStructureHandle) uint64 {
	return handleBits(unsafe.Pointer(vc.accels.MustGet(uint64(as))))
}

// BuildAccelerationStructure records a device build of dst from a single
// geometry. The build info is read when the command is recorded.
func (v *VulkanCommandBuffer) BuildAccelerationStructure(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, dst metadata.AccelerationStructureHandle, scratch metadata.DeviceAddress, primitiveCount uint32) {
	var mem cMemory
	defer mem.free()

	buildInfo := newBuildGeometryInfo(&mem, asType,
		newAccelerationStructureGeometry(&mem, geometry),
		v.context.accelerationStructureBits(dst),
		uint64(scratch))
	v.context.rt.cmdBuildAccelerationStructure(v.Handle, buildInfo, newBuildRangePointers(&mem, primitiveCount))
}
