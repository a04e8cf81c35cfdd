package vulkan

import (
	"encoding/binary"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// The structures below come from Vulkan 1.1+ and the KHR ray tracing
// extensions, which the bindings do not wrap. They are laid out by hand in
// memory the driver can read, following the 64-bit little-endian ABI.

const (
	sizeofPhysicalDeviceFeatures2 = 240
	// Generous upper bound for VkPhysicalDeviceProperties2 (840 bytes on LP64).
	sizeofPhysicalDeviceProperties2 = 1024

	sizeofBufferDeviceAddressFeatures             = 32
	sizeofAccelerationStructureFeatures           = 40
	sizeofRayTracingPipelineFeatures              = 40
	sizeofRayTracingPipelineProperties            = 48
	sizeofAccelerationStructureProperties         = 64
	sizeofMemoryAllocateFlagsInfo                 = 24
	sizeofBufferDeviceAddressInfo                 = 24
	sizeofAccelerationStructureCreateInfo         = 64
	sizeofAccelerationStructureAddressInfo        = 24
	sizeofAccelerationStructureGeometry           = 96
	sizeofBuildGeometryInfo                       = 80
	sizeofBuildSizesInfo                          = 40
	sizeofBuildRangeInfo                          = 16
	sizeofPipelineShaderStageCreateInfo           = 48
	sizeofRayTracingShaderGroupCreateInfo         = 48
	sizeofRayTracingPipelineCreateInfo            = 104
	sizeofStridedDeviceAddressRegion              = 24
	sizeofWriteDescriptorSetAccelerationStructure = 32

	buildModeBuild                   = 0
	buildFlagPreferFastTrace         = 0x00000004
	pipelineShaderStageStructureType = 18
)

// structMemory hands out zeroed memory that stays put until it is released
// by its owner. The driver keeps no references past the call it is used in.
type structMemory interface {
	alloc(size int) []byte
}

// rawStruct is one structure inside structMemory.
type rawStruct []byte

func newStruct(mem structMemory, size int, sType vk.StructureType) rawStruct {
	s := rawStruct(mem.alloc(size))
	s.u32(0, uint32(sType))
	return s
}

func (s rawStruct) u32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(s[offset:], v)
}

func (s rawStruct) u64(offset int, v uint64) {
	binary.LittleEndian.PutUint64(s[offset:], v)
}

func (s rawStruct) getU32(offset int) uint32 {
	return binary.LittleEndian.Uint32(s[offset:])
}

func (s rawStruct) getU64(offset int) uint64 {
	return binary.LittleEndian.Uint64(s[offset:])
}

// link stores the address of other at offset, or NULL for an empty struct.
func (s rawStruct) link(offset int, other rawStruct) {
	s.u64(offset, other.address())
}

// chain sets pNext.
func (s rawStruct) chain(next rawStruct) {
	s.link(8, next)
}

func (s rawStruct) pointer() unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

func (s rawStruct) address() uint64 {
	return uint64(uintptr(s.pointer()))
}

// handleBits returns the 64-bit value of a non-dispatchable handle.
func handleBits(handle unsafe.Pointer) uint64 {
	return uint64(uintptr(handle))
}

func cString(mem structMemory, str string) rawStruct {
	s := rawStruct(mem.alloc(len(str) + 1))
	copy(s, str)
	return s
}

// rayTracingFeatures is the chain pipeline -> acceleration structure ->
// buffer device address.
type rayTracingFeatures struct {
	pipeline      rawStruct
	accel         rawStruct
	deviceAddress rawStruct
}

func newRayTracingFeatures(mem structMemory, enable bool) rayTracingFeatures {
	f := rayTracingFeatures{
		pipeline:      newStruct(mem, sizeofRayTracingPipelineFeatures, vk.StructureTypePhysicalDeviceRayTracingPipelineFeatures),
		accel:         newStruct(mem, sizeofAccelerationStructureFeatures, vk.StructureTypePhysicalDeviceAccelerationStructureFeatures),
		deviceAddress: newStruct(mem, sizeofBufferDeviceAddressFeatures, vk.StructureTypePhysicalDeviceBufferDeviceAddressFeatures),
	}
	f.pipeline.chain(f.accel)
	f.accel.chain(f.deviceAddress)
	if enable {
		// rayTracingPipeline, accelerationStructure and bufferDeviceAddress
		// are the first member of each structure.
		f.pipeline.u32(16, uint32(vk.True))
		f.accel.u32(16, uint32(vk.True))
		f.deviceAddress.u32(16, uint32(vk.True))
	}
	return f
}

// query wraps the chain in a VkPhysicalDeviceFeatures2.
func (f rayTracingFeatures) query(mem structMemory) rawStruct {
	head := newStruct(mem, sizeofPhysicalDeviceFeatures2, vk.StructureTypePhysicalDeviceFeatures2)
	head.chain(f.pipeline)
	return head
}

func (f rayTracingFeatures) supported() bool {
	return f.pipeline.getU32(16) == uint32(vk.True) &&
		f.accel.getU32(16) == uint32(vk.True) &&
		f.deviceAddress.getU32(16) == uint32(vk.True)
}

// rayTracingPropertiesQuery is VkPhysicalDeviceProperties2 chained to the
// pipeline and acceleration structure properties.
type rayTracingPropertiesQuery struct {
	head     rawStruct
	pipeline rawStruct
	accel    rawStruct
}

func newRayTracingPropertiesQuery(mem structMemory) rayTracingPropertiesQuery {
	q := rayTracingPropertiesQuery{
		head:     newStruct(mem, sizeofPhysicalDeviceProperties2, vk.StructureTypePhysicalDeviceProperties2),
		pipeline: newStruct(mem, sizeofRayTracingPipelineProperties, vk.StructureTypePhysicalDeviceRayTracingPipelineProperties),
		accel:    newStruct(mem, sizeofAccelerationStructureProperties, vk.StructureTypePhysicalDeviceAccelerationStructureProperties),
	}
	q.head.chain(q.pipeline)
	q.pipeline.chain(q.accel)
	return q
}

func (q rayTracingPropertiesQuery) properties() metadata.RayTracingProperties {
	return metadata.RayTracingProperties{
		ShaderGroupHandleSize:      q.pipeline.getU32(16),
		MaxRayRecursionDepth:       q.pipeline.getU32(20),
		ShaderGroupBaseAlignment:   q.pipeline.getU32(28),
		ShaderGroupHandleAlignment: q.pipeline.getU32(40),
		MinScratchOffsetAlignment:  q.accel.getU32(56),
	}
}

func newMemoryAllocateFlagsInfo(mem structMemory) rawStruct {
	s := newStruct(mem, sizeofMemoryAllocateFlagsInfo, vk.StructureTypeMemoryAllocateFlagsInfo)
	s.u32(16, uint32(vk.MemoryAllocateDeviceAddressBit))
	return s
}

func newBufferDeviceAddressInfo(mem structMemory, buffer uint64) rawStruct {
	s := newStruct(mem, sizeofBufferDeviceAddressInfo, vk.StructureTypeBufferDeviceAddressInfo)
	s.u64(16, buffer)
	return s
}

func newAccelerationStructureCreateInfo(mem structMemory, asType metadata.AccelerationStructureType, buffer, size uint64) rawStruct {
	s := newStruct(mem, sizeofAccelerationStructureCreateInfo, vk.StructureTypeAccelerationStructureCreateInfo)
	s.u64(24, buffer)
	// offset at 32 stays 0.
	s.u64(40, size)
	s.u32(48, uint32(asType))
	return s
}

func newAccelerationStructureAddressInfo(mem structMemory, as uint64) rawStruct {
	s := newStruct(mem, sizeofAccelerationStructureAddressInfo, vk.StructureTypeAccelerationStructureDeviceAddressInfo)
	s.u64(16, as)
	return s
}

func newAccelerationStructureGeometry(mem structMemory, g metadata.AccelerationStructureGeometry) rawStruct {
	s := newStruct(mem, sizeofAccelerationStructureGeometry, vk.StructureTypeAccelerationStructureGeometry)
	s.u32(16, uint32(g.Type))
	data := encodeGeometryData(g)
	copy(s[24:24+geometryDataSize], data[:])
	s.u32(88, uint32(g.Flags))
	return s
}

// newBuildGeometryInfo describes a build of a single geometry. dst and
// scratch are only read by the command, not by the size query.
func newBuildGeometryInfo(mem structMemory, asType metadata.AccelerationStructureType, geometry rawStruct, dst, scratch uint64) rawStruct {
	s := newStruct(mem, sizeofBuildGeometryInfo, vk.StructureTypeAccelerationStructureBuildGeometryInfo)
	s.u32(16, uint32(asType))
	s.u32(20, buildFlagPreferFastTrace)
	s.u32(24, buildModeBuild)
	s.u64(40, dst)
	s.u32(48, 1)
	s.link(56, geometry)
	s.u64(72, scratch)
	return s
}

func newBuildSizesInfo(mem structMemory) rawStruct {
	return newStruct(mem, sizeofBuildSizesInfo, vk.StructureTypeAccelerationStructureBuildSizesInfo)
}

func buildSizes(s rawStruct) metadata.AccelerationStructureBuildSizes {
	return metadata.AccelerationStructureBuildSizes{
		StorageSize: s.getU64(16),
		ScratchSize: s.getU64(32),
	}
}

// newBuildRangePointers returns the array of one pointer to one range the
// build command expects.
func newBuildRangePointers(mem structMemory, primitiveCount uint32) rawStruct {
	buildRange := rawStruct(mem.alloc(sizeofBuildRangeInfo))
	buildRange.u32(0, primitiveCount)
	pointers := rawStruct(mem.alloc(8))
	pointers.link(0, buildRange)
	return pointers
}

type shaderStageInfo struct {
	stage      metadata.ShaderStageFlags
	module     uint64
	entryPoint string
}

func newShaderStages(mem structMemory, stages []shaderStageInfo) rawStruct {
	if len(stages) == 0 {
		return nil
	}
	s := rawStruct(mem.alloc(len(stages) * sizeofPipelineShaderStageCreateInfo))
	for i, stage := range stages {
		base := i * sizeofPipelineShaderStageCreateInfo
		s.u32(base, pipelineShaderStageStructureType)
		s.u32(base+20, uint32(stage.stage))
		s.u64(base+24, stage.module)
		s.link(base+32, cString(mem, stage.entryPoint))
	}
	return s
}

func newShaderGroups(mem structMemory, groups []metadata.ShaderGroup) rawStruct {
	if len(groups) == 0 {
		return nil
	}
	s := rawStruct(mem.alloc(len(groups) * sizeofRayTracingShaderGroupCreateInfo))
	for i, g := range groups {
		base := i * sizeofRayTracingShaderGroupCreateInfo
		s.u32(base, uint32(vk.StructureTypeRayTracingShaderGroupCreateInfo))
		s.u32(base+16, uint32(g.Type))
		s.u32(base+20, g.General)
		s.u32(base+24, g.ClosestHit)
		s.u32(base+28, g.AnyHit)
		s.u32(base+32, g.Intersection)
	}
	return s
}

func newRayTracingPipelineCreateInfo(mem structMemory, stages []shaderStageInfo, groups []metadata.ShaderGroup, maxRecursionDepth uint32, layout uint64) rawStruct {
	s := newStruct(mem, sizeofRayTracingPipelineCreateInfo, vk.StructureTypeRayTracingPipelineCreateInfo)
	s.u32(20, uint32(len(stages)))
	s.link(24, newShaderStages(mem, stages))
	s.u32(32, uint32(len(groups)))
	s.link(40, newShaderGroups(mem, groups))
	s.u32(48, maxRecursionDepth)
	s.u64(80, layout)
	// basePipelineIndex
	s.u32(96, ^uint32(0))
	return s
}

// newTraceRegions packs the raygen, miss, hit and callable regions back to back.
func newTraceRegions(mem structMemory, regions ...metadata.StridedDeviceAddressRegion) rawStruct {
	s := rawStruct(mem.alloc(len(regions) * sizeofStridedDeviceAddressRegion))
	for i, r := range regions {
		base := i * sizeofStridedDeviceAddressRegion
		s.u64(base, uint64(r.DeviceAddress))
		s.u64(base+8, r.Stride)
		s.u64(base+16, r.Size)
	}
	return s
}

func newWriteDescriptorSetAccelerationStructure(mem structMemory, as uint64) rawStruct {
	s := newStruct(mem, sizeofWriteDescriptorSetAccelerationStructure, vk.StructureTypeWriteDescriptorSetAccelerationStructure)
	s.u32(16, 1)
	handles := rawStruct(mem.alloc(8))
	handles.u64(0, as)
	s.link(24, handles)
	return s
}
