package vulkan

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*rtVoidFunction)(void);
typedef rtVoidFunction (*rtGetProcAddr)(void* handle, const char* name);

static void* rtGetProc(void* getProcAddr, void* handle, const char* name) {
	return (void*)((rtGetProcAddr)getProcAddr)(handle, name);
}

static void rtGetPhysicalDeviceChain(void* fn, void* physicalDevice, void* chain) {
	((void (*)(void*, void*))fn)(physicalDevice, chain);
}

static uint64_t rtGetDeviceAddress(void* fn, void* device, void* info) {
	return ((uint64_t (*)(void*, const void*))fn)(device, info);
}

static int32_t rtCreateAccelerationStructure(void* fn, void* device, void* info, uint64_t* out) {
	return ((int32_t (*)(void*, const void*, const void*, uint64_t*))fn)(device, info, NULL, out);
}

static void rtDestroyAccelerationStructure(void* fn, void* device, uint64_t as) {
	((void (*)(void*, uint64_t, const void*))fn)(device, as, NULL);
}

// Build type 1 is VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR.
static void rtGetBuildSizes(void* fn, void* device, void* info, uint32_t primitiveCount, void* sizes) {
	((void (*)(void*, int32_t, const void*, const uint32_t*, void*))fn)(device, 1, info, &primitiveCount, sizes);
}

static void rtCmdBuildAccelerationStructure(void* fn, void* cmd, void* info, void* ranges) {
	((void (*)(void*, uint32_t, const void*, const void* const*))fn)(cmd, 1, info, (const void* const*)ranges);
}

static int32_t rtCreateRayTracingPipeline(void* fn, void* device, void* info, uint64_t* out) {
	return ((int32_t (*)(void*, uint64_t, uint64_t, uint32_t, const void*, const void*, uint64_t*))fn)(device, 0, 0, 1, info, NULL, out);
}

static int32_t rtGetShaderGroupHandles(void* fn, void* device, uint64_t pipeline, uint32_t count, size_t size, void* data) {
	return ((int32_t (*)(void*, uint64_t, uint32_t, uint32_t, size_t, void*))fn)(device, pipeline, 0, count, size, data);
}

// regions holds the raygen, miss, hit and callable regions, 24 bytes each.
static void rtCmdTraceRays(void* fn, void* cmd, void* regions, uint32_t width, uint32_t height, uint32_t depth) {
	const char* r = (const char*)regions;
	((void (*)(void*, const void*, const void*, const void*, const void*, uint32_t, uint32_t, uint32_t))fn)(
		cmd, r, r + 24, r + 48, r + 72, width, height, depth);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
)

// cMemory is structMemory backed by the C heap, so the driver can follow the
// pointers stored inside it.
type cMemory struct {
	blocks []unsafe.Pointer
}

func (m *cMemory) alloc(size int) []byte {
	p := C.calloc(1, C.size_t(size))
	if p == nil {
		panic(fmt.Sprintf("calloc of %d bytes failed", size))
	}
	m.blocks = append(m.blocks, p)
	return unsafe.Slice((*byte)(p), size)
}

func (m *cMemory) free() {
	for _, p := range m.blocks {
		C.free(p)
	}
	m.blocks = nil
}

// rayTracingDispatch holds the entry points the bindings do not expose. The
// instance-level ones are resolved right after instance creation, the rest
// once the logical device exists.
type rayTracingDispatch struct {
	getPhysicalDeviceFeatures2   unsafe.Pointer
	getPhysicalDeviceProperties2 unsafe.Pointer
	getDeviceProcAddr            unsafe.Pointer

	getBufferDeviceAddress                unsafe.Pointer
	createAccelerationStructure           unsafe.Pointer
	destroyAccelerationStructure          unsafe.Pointer
	getAccelerationStructureBuildSizes    unsafe.Pointer
	getAccelerationStructureDeviceAddress unsafe.Pointer
	cmdBuildAccelerationStructures        unsafe.Pointer
	createRayTracingPipelines             unsafe.Pointer
	getRayTracingShaderGroupHandles       unsafe.Pointer
	cmdTraceRays                          unsafe.Pointer
}

func procAddress(getProcAddr, handle unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	fn := C.rtGetProc(getProcAddr, handle, cname)
	if fn == nil {
		err := fmt.Errorf("%w: %s", core.ErrMissingEntryPoint, name)
		core.LogError(err.Error())
		return nil, err
	}
	return fn, nil
}

type entryPoint struct {
	name   string
	target *unsafe.Pointer
}

func resolveAll(getProcAddr, handle unsafe.Pointer, entries []entryPoint) error {
	for _, e := range entries {
		fn, err := procAddress(getProcAddr, handle, e.name)
		if err != nil {
			return err
		}
		*e.target = fn
	}
	return nil
}

// loadInstance resolves the instance-level entry points through the loader's
// vkGetInstanceProcAddr.
func (d *rayTracingDispatch) loadInstance(getInstanceProcAddr unsafe.Pointer, instance vk.Instance) error {
	return resolveAll(getInstanceProcAddr, unsafe.Pointer(instance), []entryPoint{
		{"vkGetPhysicalDeviceFeatures2", &d.getPhysicalDeviceFeatures2},
		{"vkGetPhysicalDeviceProperties2", &d.getPhysicalDeviceProperties2},
		{"vkGetDeviceProcAddr", &d.getDeviceProcAddr},
	})
}

func (d *rayTracingDispatch) loadDevice(device vk.Device) error {
	err := resolveAll(d.getDeviceProcAddr, unsafe.Pointer(device), []entryPoint{
		{"vkGetBufferDeviceAddress", &d.getBufferDeviceAddress},
		{"vkCreateAccelerationStructureKHR", &d.createAccelerationStructure},
		{"vkDestroyAccelerationStructureKHR", &d.destroyAccelerationStructure},
		{"vkGetAccelerationStructureBuildSizesKHR", &d.getAccelerationStructureBuildSizes},
		{"vkGetAccelerationStructureDeviceAddressKHR", &d.getAccelerationStructureDeviceAddress},
		{"vkCmdBuildAccelerationStructuresKHR", &d.cmdBuildAccelerationStructures},
		{"vkCreateRayTracingPipelinesKHR", &d.createRayTracingPipelines},
		{"vkGetRayTracingShaderGroupHandlesKHR", &d.getRayTracingShaderGroupHandles},
		{"vkCmdTraceRaysKHR", &d.cmdTraceRays},
	})
	if err == nil {
		core.LogDebug("Ray tracing entry points resolved.")
	}
	return err
}

func (d *rayTracingDispatch) physicalDeviceFeatures(physicalDevice vk.PhysicalDevice, features rawStruct) {
	C.rtGetPhysicalDeviceChain(d.getPhysicalDeviceFeatures2, unsafe.Pointer(physicalDevice), features.pointer())
}

func (d *rayTracingDispatch) physicalDeviceProperties(physicalDevice vk.PhysicalDevice, properties rawStruct) {
	C.rtGetPhysicalDeviceChain(d.getPhysicalDeviceProperties2, unsafe.Pointer(physicalDevice), properties.pointer())
}

func (d *rayTracingDispatch) bufferDeviceAddress(device vk.Device, info rawStruct) uint64 {
	return uint64(C.rtGetDeviceAddress(d.getBufferDeviceAddress, unsafe.Pointer(device), info.pointer()))
}

func (d *rayTracingDispatch) accelerationStructureDeviceAddress(device vk.Device, info rawStruct) uint64 {
	return uint64(C.rtGetDeviceAddress(d.getAccelerationStructureDeviceAddress, unsafe.Pointer(device), info.pointer()))
}

func (d *rayTracingDispatch) createAccelerationStructureKHR(device vk.Device, info rawStruct, out *vk.AccelerationStructure) vk.Result {
	res := C.rtCreateAccelerationStructure(d.createAccelerationStructure, unsafe.Pointer(device), info.pointer(), (*C.uint64_t)(unsafe.Pointer(out)))
	return vk.Result(res)
}

func (d *rayTracingDispatch) destroyAccelerationStructureKHR(device vk.Device, as vk.AccelerationStructure) {
	C.rtDestroyAccelerationStructure(d.destroyAccelerationStructure, unsafe.Pointer(device), C.uint64_t(handleBits(unsafe.Pointer(as))))
}

func (d *rayTracingDispatch) buildSizes(device vk.Device, info rawStruct, primitiveCount uint32, sizes rawStruct) {
	C.rtGetBuildSizes(d.getAccelerationStructureBuildSizes, unsafe.Pointer(device), info.pointer(), C.uint32_t(primitiveCount), sizes.pointer())
}

func (d *rayTracingDispatch) cmdBuildAccelerationStructure(cmd vk.CommandBuffer, info, ranges rawStruct) {
	C.rtCmdBuildAccelerationStructure(d.cmdBuildAccelerationStructures, unsafe.Pointer(cmd), info.pointer(), ranges.pointer())
}

func (d *rayTracingDispatch) createRayTracingPipeline(device vk.Device, info rawStruct, out *vk.Pipeline) vk.Result {
	res := C.rtCreateRayTracingPipeline(d.createRayTracingPipelines, unsafe.Pointer(device), info.pointer(), (*C.uint64_t)(unsafe.Pointer(out)))
	return vk.Result(res)
}

func (d *rayTracingDispatch) shaderGroupHandles(device vk.Device, pipeline vk.Pipeline, groupCount uint32, data []byte) vk.Result {
	res := C.rtGetShaderGroupHandles(d.getRayTracingShaderGroupHandles, unsafe.Pointer(device),
		C.uint64_t(handleBits(unsafe.Pointer(pipeline))), C.uint32_t(groupCount), C.size_t(len(data)), unsafe.Pointer(&data[0]))
	return vk.Result(res)
}

func (d *rayTracingDispatch) traceRays(cmd vk.CommandBuffer, regions rawStruct, width, height, depth uint32) {
	C.rtCmdTraceRays(d.cmdTraceRays, unsafe.Pointer(cmd), regions.pointer(), C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
}
