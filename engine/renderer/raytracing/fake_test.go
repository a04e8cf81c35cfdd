package raytracing

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-memory Device. Submitted work stays outstanding until
// the host waits on its fence.
type fakeDevice struct {
	log []string

	next    uint64
	objects map[uint64]string
	// Destroy calls on handles that were never created or already destroyed.
	badFrees []string

	memory        map[metadata.MemoryHandle][]byte
	memoryAddress map[metadata.MemoryHandle]bool
	mapped        map[metadata.MemoryHandle]bool
	bufferSize    map[metadata.BufferHandle]uint64
	bufferUsage   map[metadata.BufferHandle]metadata.BufferUsageFlags
	bufferMemory  map[metadata.BufferHandle]metadata.MemoryHandle

	// Added to every buffer address; must stay below 1<<16.
	addressOffset uint64

	props     metadata.RayTracingProperties
	builds    []fakeBuild
	pipelines []fakePipeline
	writes    []fakeDescriptorWrite

	fences         map[metadata.FenceHandle]bool
	pendingFences  map[metadata.FenceHandle]bool
	maxOutstanding int
	submits        []SubmitInfo
	commandBuffers []*fakeCommandBuffer

	// Makes the named method fail once with the given error.
	failures map[string]error
}

type fakeBuild struct {
	Type           metadata.AccelerationStructureType
	Geometry       metadata.AccelerationStructureGeometry
	Dst            metadata.AccelerationStructureHandle
	Scratch        metadata.DeviceAddress
	PrimitiveCount uint32
	// Whether the scratch buffer was still alive when the build was recorded.
	ScratchLive bool
}

type fakePipeline struct {
	Handle metadata.PipelineHandle
	Stages []ShaderStage
	Groups []metadata.ShaderGroup
	Depth  uint32
}

type fakeDescriptorWrite struct {
	Set  metadata.DescriptorSetHandle
	AS   metadata.AccelerationStructureHandle
	View metadata.ImageViewHandle
}

var (
	_ Device        = (*fakeDevice)(nil)
	_ CommandBuffer = (*fakeCommandBuffer)(nil)
	_ Swapchain     = (*fakeSwapchain)(nil)
)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		next:          1,
		objects:       make(map[uint64]string),
		memory:        make(map[metadata.MemoryHandle][]byte),
		memoryAddress: make(map[metadata.MemoryHandle]bool),
		mapped:        make(map[metadata.MemoryHandle]bool),
		bufferSize:    make(map[metadata.BufferHandle]uint64),
		bufferUsage:   make(map[metadata.BufferHandle]metadata.BufferUsageFlags),
		bufferMemory:  make(map[metadata.BufferHandle]metadata.MemoryHandle),
		fences:        make(map[metadata.FenceHandle]bool),
		pendingFences: make(map[metadata.FenceHandle]bool),
		failures:      make(map[string]error),
		props: metadata.RayTracingProperties{
			ShaderGroupHandleSize:      32,
			ShaderGroupHandleAlignment: 32,
			ShaderGroupBaseAlignment:   64,
			MaxRayRecursionDepth:       31,
			MinScratchOffsetAlignment:  128,
		},
	}
}

func (fd *fakeDevice) record(name string) {
	fd.log = append(fd.log, name)
}

func (fd *fakeDevice) fail(name string) error {
	if err, ok := fd.failures[name]; ok {
		delete(fd.failures, name)
		return err
	}
	return nil
}

func (fd *fakeDevice) create(kind string) uint64 {
	h := fd.next
	fd.next++
	fd.objects[h] = kind
	return h
}

func (fd *fakeDevice) destroy(kind string, h uint64) {
	if got, ok := fd.objects[h]; !ok || got != kind {
		fd.badFrees = append(fd.badFrees, fmt.Sprintf("%s %d", kind, h))
		return
	}
	delete(fd.objects, h)
}

func (fd *fakeDevice) live(kind string) int {
	n := 0
	for _, k := range fd.objects {
		if k == kind {
			n++
		}
	}
	return n
}

func (fd *fakeDevice) count(name string) int {
	n := 0
	for _, l := range fd.log {
		if l == name {
			n++
		}
	}
	return n
}

func (fd *fakeDevice) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, error) {
	fd.record("CreateBuffer")
	if err := fd.fail("CreateBuffer"); err != nil {
		return 0, err
	}
	h := metadata.BufferHandle(fd.create("buffer"))
	fd.bufferSize[h] = size
	fd.bufferUsage[h] = usage
	return h, nil
}

func (fd *fakeDevice) BufferMemoryRequirements(buffer metadata.BufferHandle) metadata.MemoryRequirements {
	return metadata.MemoryRequirements{
		Size:           fd.bufferSize[buffer],
		Alignment:      256,
		MemoryTypeBits: 0x1,
	}
}

func (fd *fakeDevice) AllocateMemory(requirements metadata.MemoryRequirements, properties metadata.MemoryPropertyFlags, deviceAddress bool) (metadata.MemoryHandle, error) {
	fd.record("AllocateMemory")
	if err := fd.fail("AllocateMemory"); err != nil {
		return 0, err
	}
	h := metadata.MemoryHandle(fd.create("memory"))
	fd.memory[h] = make([]byte, requirements.Size)
	fd.memoryAddress[h] = deviceAddress
	return h, nil
}

func (fd *fakeDevice) BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle) error {
	fd.record("BindBufferMemory")
	if err := fd.fail("BindBufferMemory"); err != nil {
		return err
	}
	if _, bound := fd.bufferMemory[buffer]; bound {
		return fmt.Errorf("buffer %d already bound", buffer)
	}
	fd.bufferMemory[buffer] = memory
	return nil
}

func (fd *fakeDevice) MapMemory(memory metadata.MemoryHandle, size uint64) ([]byte, error) {
	fd.record("MapMemory")
	if fd.mapped[memory] {
		return nil, fmt.Errorf("memory %d already mapped", memory)
	}
	fd.mapped[memory] = true
	return fd.memory[memory][:size], nil
}

func (fd *fakeDevice) UnmapMemory(memory metadata.MemoryHandle) {
	fd.record("UnmapMemory")
	fd.mapped[memory] = false
}

func (fd *fakeDevice) BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress {
	return metadata.DeviceAddress(uint64(buffer)<<16 + fd.addressOffset)
}

func (fd *fakeDevice) DestroyBuffer(buffer metadata.BufferHandle) {
	fd.record("DestroyBuffer")
	fd.destroy("buffer", uint64(buffer))
	delete(fd.bufferMemory, buffer)
}

func (fd *fakeDevice) FreeMemory(memory metadata.MemoryHandle) {
	fd.record("FreeMemory")
	fd.destroy("memory", uint64(memory))
}

// bufferBytes returns the memory contents behind a buffer device address.
func (fd *fakeDevice) bufferBytes(address metadata.DeviceAddress) []byte {
	buffer := metadata.BufferHandle(uint64(address) >> 16)
	return fd.memory[fd.bufferMemory[buffer]]
}

func (fd *fakeDevice) AccelerationStructureBuildSizes(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, primitiveCount uint32) metadata.AccelerationStructureBuildSizes {
	return metadata.AccelerationStructureBuildSizes{
		StorageSize: 1024 * uint64(primitiveCount),
		ScratchSize: 512 * uint64(primitiveCount),
	}
}

func (fd *fakeDevice) CreateAccelerationStructure(asType metadata.AccelerationStructureType, buffer metadata.BufferHandle, size uint64) (metadata.AccelerationStructureHandle, error) {
	fd.record("CreateAccelerationStructure")
	if err := fd.fail("CreateAccelerationStructure"); err != nil {
		return 0, err
	}
	return metadata.AccelerationStructureHandle(fd.create("accel")), nil
}

func (fd *fakeDevice) AccelerationStructureDeviceAddress(as metadata.AccelerationStructureHandle) metadata.DeviceAddress {
	return metadata.DeviceAddress(0xA000_0000 + uint64(as)*0x100)
}

func (fd *fakeDevice) DestroyAccelerationStructure(as metadata.AccelerationStructureHandle) {
	fd.record("DestroyAccelerationStructure")
	fd.destroy("accel", uint64(as))
}

func (fd *fakeDevice) ExecuteSingleUse(record func(cmd CommandBuffer) error) error {
	fd.record("ExecuteSingleUse")
	if err := fd.fail("ExecuteSingleUse"); err != nil {
		return err
	}
	cmd := &fakeCommandBuffer{device: fd}
	if err := cmd.Begin(true); err != nil {
		return err
	}
	if err := record(cmd); err != nil {
		return err
	}
	return cmd.End()
}

func (fd *fakeDevice) CreateShaderModule(code []uint32) (metadata.ShaderModuleHandle, error) {
	fd.record("CreateShaderModule")
	if err := fd.fail("CreateShaderModule"); err != nil {
		return 0, err
	}
	return metadata.ShaderModuleHandle(fd.create("shader")), nil
}

func (fd *fakeDevice) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	fd.record("DestroyShaderModule")
	fd.destroy("shader", uint64(module))
}

func (fd *fakeDevice) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.DescriptorSetLayoutHandle, error) {
	fd.record("CreateDescriptorSetLayout")
	return metadata.DescriptorSetLayoutHandle(fd.create("set-layout")), nil
}

func (fd *fakeDevice) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	fd.record("DestroyDescriptorSetLayout")
	fd.destroy("set-layout", uint64(layout))
}

func (fd *fakeDevice) CreatePipelineLayout(setLayout metadata.DescriptorSetLayoutHandle) (metadata.PipelineLayoutHandle, error) {
	fd.record("CreatePipelineLayout")
	return metadata.PipelineLayoutHandle(fd.create("pipeline-layout")), nil
}

func (fd *fakeDevice) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	fd.record("DestroyPipelineLayout")
	fd.destroy("pipeline-layout", uint64(layout))
}

func (fd *fakeDevice) CreateRayTracingPipeline(layout metadata.PipelineLayoutHandle, stages []*ShaderStage, groups []metadata.ShaderGroup, maxRecursionDepth uint32) (metadata.PipelineHandle, error) {
	fd.record("CreateRayTracingPipeline")
	if err := fd.fail("CreateRayTracingPipeline"); err != nil {
		return 0, err
	}
	h := metadata.PipelineHandle(fd.create("pipeline"))
	p := fakePipeline{Handle: h, Groups: groups, Depth: maxRecursionDepth}
	for _, s := range stages {
		if _, ok := fd.objects[uint64(s.Module)]; !ok {
			return 0, fmt.Errorf("stage %s uses dead module %d", s.Stage, s.Module)
		}
		p.Stages = append(p.Stages, *s)
	}
	fd.pipelines = append(fd.pipelines, p)
	return h, nil
}

func (fd *fakeDevice) DestroyPipeline(pipeline metadata.PipelineHandle) {
	fd.record("DestroyPipeline")
	fd.destroy("pipeline", uint64(pipeline))
}

// groupHandles produces distinct bytes for every handle of a pipeline.
func (fd *fakeDevice) groupHandles(pipeline metadata.PipelineHandle, groupCount uint32) []byte {
	size := int(fd.props.ShaderGroupHandleSize)
	out := make([]byte, int(groupCount)*size)
	for g := 0; g < int(groupCount); g++ {
		for i := 0; i < size; i++ {
			out[g*size+i] = byte(int(pipeline)*17 + g*31 + i + 1)
		}
	}
	return out
}

func (fd *fakeDevice) RayTracingShaderGroupHandles(pipeline metadata.PipelineHandle, groupCount uint32, dataSize int) ([]byte, error) {
	fd.record("RayTracingShaderGroupHandles")
	if err := fd.fail("RayTracingShaderGroupHandles"); err != nil {
		return nil, err
	}
	return fd.groupHandles(pipeline, groupCount), nil
}

func (fd *fakeDevice) RayTracingProperties() metadata.RayTracingProperties {
	return fd.props
}

func (fd *fakeDevice) CreateDescriptorPool(sizes []metadata.DescriptorPoolSize, maxSets uint32) (metadata.DescriptorPoolHandle, error) {
	fd.record("CreateDescriptorPool")
	return metadata.DescriptorPoolHandle(fd.create("descriptor-pool")), nil
}

func (fd *fakeDevice) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	fd.record("DestroyDescriptorPool")
	fd.destroy("descriptor-pool", uint64(pool))
}

func (fd *fakeDevice) AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layout metadata.DescriptorSetLayoutHandle, count uint32) ([]metadata.DescriptorSetHandle, error) {
	fd.record("AllocateDescriptorSets")
	sets := make([]metadata.DescriptorSetHandle, count)
	for i := range sets {
		// Sets are released with their pool and are not tracked.
		sets[i] = metadata.DescriptorSetHandle(fd.next)
		fd.next++
	}
	return sets, nil
}

func (fd *fakeDevice) WriteDescriptorSet(set metadata.DescriptorSetHandle, as metadata.AccelerationStructureHandle, view metadata.ImageViewHandle) {
	fd.record("WriteDescriptorSet")
	fd.writes = append(fd.writes, fakeDescriptorWrite{Set: set, AS: as, View: view})
}

func (fd *fakeDevice) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	fd.record("CreateSemaphore")
	if err := fd.fail("CreateSemaphore"); err != nil {
		return 0, err
	}
	return metadata.SemaphoreHandle(fd.create("semaphore")), nil
}

func (fd *fakeDevice) DestroySemaphore(semaphore metadata.SemaphoreHandle) {
	fd.record("DestroySemaphore")
	fd.destroy("semaphore", uint64(semaphore))
}

func (fd *fakeDevice) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	fd.record("CreateFence")
	if err := fd.fail("CreateFence"); err != nil {
		return 0, err
	}
	h := metadata.FenceHandle(fd.create("fence"))
	fd.fences[h] = signaled
	return h, nil
}

func (fd *fakeDevice) DestroyFence(fence metadata.FenceHandle) {
	fd.record("DestroyFence")
	fd.destroy("fence", uint64(fence))
	delete(fd.fences, fence)
}

// WaitForFence completes the work guarded by fence. Waiting on a fence that
// is neither signaled nor pending would block forever and is reported.
func (fd *fakeDevice) WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error {
	fd.record("WaitForFence")
	if fd.pendingFences[fence] {
		delete(fd.pendingFences, fence)
		fd.fences[fence] = true
	}
	if !fd.fences[fence] {
		return fmt.Errorf("deadlock: fence %d is unsignaled with no pending work", fence)
	}
	return nil
}

func (fd *fakeDevice) ResetFence(fence metadata.FenceHandle) error {
	fd.record("ResetFence")
	if fd.pendingFences[fence] {
		return fmt.Errorf("fence %d reset while in use", fence)
	}
	fd.fences[fence] = false
	return nil
}

func (fd *fakeDevice) CreateCommandPool() (metadata.CommandPoolHandle, error) {
	fd.record("CreateCommandPool")
	return metadata.CommandPoolHandle(fd.create("command-pool")), nil
}

func (fd *fakeDevice) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	fd.record("DestroyCommandPool")
	fd.destroy("command-pool", uint64(pool))
}

func (fd *fakeDevice) ResetCommandPool(pool metadata.CommandPoolHandle) error {
	fd.record("ResetCommandPool")
	for _, cb := range fd.commandBuffers {
		if cb.pool == pool {
			cb.commands = nil
		}
	}
	return nil
}

func (fd *fakeDevice) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (CommandBuffer, error) {
	fd.record("AllocateCommandBuffer")
	cb := &fakeCommandBuffer{device: fd, pool: pool}
	fd.commandBuffers = append(fd.commandBuffers, cb)
	return cb, nil
}

func (fd *fakeDevice) Submit(info SubmitInfo) error {
	fd.record("Submit")
	if err := fd.fail("Submit"); err != nil {
		return err
	}
	if fd.fences[info.Fence] || fd.pendingFences[info.Fence] {
		return fmt.Errorf("submit with fence %d not reset", info.Fence)
	}
	fd.pendingFences[info.Fence] = true
	if n := len(fd.pendingFences); n > fd.maxOutstanding {
		fd.maxOutstanding = n
	}
	fd.submits = append(fd.submits, info)
	return nil
}

func (fd *fakeDevice) WaitIdle() error {
	fd.record("WaitIdle")
	for f := range fd.pendingFences {
		fd.fences[f] = true
	}
	fd.pendingFences = make(map[metadata.FenceHandle]bool)
	return nil
}

type fakeTrace struct {
	RayGen, Miss, Hit, Callable metadata.StridedDeviceAddressRegion
	Width, Height, Depth        uint32
}

type fakeCommandBuffer struct {
	device *fakeDevice
	pool   metadata.CommandPoolHandle

	recording bool
	commands  []string
	barriers  []metadata.ImageBarrier
	traces    []fakeTrace
	sets      []metadata.DescriptorSetHandle
	pipelines []metadata.PipelineHandle
	clears    []metadata.Rect2D
}

func (cb *fakeCommandBuffer) add(name string) {
	cb.commands = append(cb.commands, name)
}

func (cb *fakeCommandBuffer) Begin(oneTimeSubmit bool) error {
	if cb.recording {
		return fmt.Errorf("command buffer already recording")
	}
	cb.recording = true
	cb.commands = nil
	cb.barriers = nil
	cb.traces = nil
	cb.sets = nil
	cb.pipelines = nil
	cb.clears = nil
	cb.add("Begin")
	return nil
}

func (cb *fakeCommandBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("command buffer not recording")
	}
	cb.recording = false
	cb.add("End")
	return nil
}

func (cb *fakeCommandBuffer) BuildAccelerationStructure(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, dst metadata.AccelerationStructureHandle, scratch metadata.DeviceAddress, primitiveCount uint32) {
	cb.add("BuildAccelerationStructure")
	scratchBuffer := uint64(scratch) >> 16
	_, live := cb.device.objects[scratchBuffer]
	cb.device.builds = append(cb.device.builds, fakeBuild{
		Type:           asType,
		Geometry:       geometry,
		Dst:            dst,
		Scratch:        scratch,
		PrimitiveCount: primitiveCount,
		ScratchLive:    live,
	})
}

func (cb *fakeCommandBuffer) PipelineBarrier(barrier metadata.ImageBarrier) {
	cb.add("PipelineBarrier")
	cb.barriers = append(cb.barriers, barrier)
}

func (cb *fakeCommandBuffer) BindRayTracingPipeline(pipeline metadata.PipelineHandle) {
	cb.add("BindRayTracingPipeline")
	cb.pipelines = append(cb.pipelines, pipeline)
}

func (cb *fakeCommandBuffer) BindRayTracingDescriptorSet(layout metadata.PipelineLayoutHandle, set metadata.DescriptorSetHandle) {
	cb.add("BindRayTracingDescriptorSet")
	cb.sets = append(cb.sets, set)
}

func (cb *fakeCommandBuffer) TraceRays(raygen, miss, hit, callable metadata.StridedDeviceAddressRegion, width, height, depth uint32) {
	cb.add("TraceRays")
	cb.traces = append(cb.traces, fakeTrace{raygen, miss, hit, callable, width, height, depth})
}

func (cb *fakeCommandBuffer) BeginRenderPass(framebuffer metadata.FramebufferHandle, extent metadata.Extent2D) {
	cb.add("BeginRenderPass")
}

func (cb *fakeCommandBuffer) ClearRect(rect metadata.Rect2D, color [4]float32) {
	cb.add("ClearRect")
	cb.clears = append(cb.clears, rect)
}

func (cb *fakeCommandBuffer) EndRenderPass() {
	cb.add("EndRenderPass")
}

// fakeSwapchain hands out images round robin unless acquireErrors has
// entries, which are returned first.
type fakeSwapchain struct {
	device *fakeDevice
	count  uint32
	extent metadata.Extent2D

	nextImage     uint32
	acquireErrors []error
	presentErrors []error
	acquired      []uint32
	presented     []uint32
}

func newFakeSwapchain(device *fakeDevice, count uint32) *fakeSwapchain {
	return &fakeSwapchain{
		device: device,
		count:  count,
		extent: metadata.Extent2D{Width: 800, Height: 600},
	}
}

func (sc *fakeSwapchain) ImageCount() uint32 {
	return sc.count
}

func (sc *fakeSwapchain) Extent() metadata.Extent2D {
	return sc.extent
}

func (sc *fakeSwapchain) Image(index uint32) metadata.ImageHandle {
	return metadata.ImageHandle(1000 + index)
}

func (sc *fakeSwapchain) ImageView(index uint32) metadata.ImageViewHandle {
	return metadata.ImageViewHandle(2000 + index)
}

func (sc *fakeSwapchain) Framebuffer(index uint32) metadata.FramebufferHandle {
	return metadata.FramebufferHandle(3000 + index)
}

func (sc *fakeSwapchain) AcquireNextImage(signal metadata.SemaphoreHandle) (uint32, error) {
	sc.device.record("AcquireNextImage")
	if len(sc.acquireErrors) > 0 {
		err := sc.acquireErrors[0]
		sc.acquireErrors = sc.acquireErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	idx := sc.nextImage
	sc.nextImage = (sc.nextImage + 1) % sc.count
	sc.acquired = append(sc.acquired, idx)
	return idx, nil
}

func (sc *fakeSwapchain) Present(imageIndex uint32, wait metadata.SemaphoreHandle) error {
	sc.device.record("Present")
	sc.presented = append(sc.presented, imageIndex)
	if len(sc.presentErrors) > 0 {
		err := sc.presentErrors[0]
		sc.presentErrors = sc.presentErrors[1:]
		return err
	}
	return nil
}

type fakeOverlay struct {
	calls int
}

func (o *fakeOverlay) Record(cmd CommandBuffer, extent metadata.Extent2D) {
	o.calls++
	cmd.ClearRect(metadata.Rect2D{X: 4, Y: 4, Width: 10, Height: 4}, [4]float32{1, 1, 1, 1})
}

// writeSPIRV writes a minimal module with a valid header and returns its path.
func writeSPIRV(t *testing.T, dir, name string) string {
	t.Helper()
	words := []uint32{0x07230203, 0x00010500, 0, 1, 0}
	data := make([]byte, 0, len(words)*4)
	for _, w := range words {
		data = binary.LittleEndian.AppendUint32(data, w)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeShaderSet(t *testing.T) ShaderPaths {
	t.Helper()
	dir := t.TempDir()
	return ShaderPaths{
		RayGen:     writeSPIRV(t, dir, "raygen.rgen.spv"),
		Miss:       writeSPIRV(t, dir, "miss.rmiss.spv"),
		ClosestHit: writeSPIRV(t, dir, "closesthit.rchit.spv"),
	}
}
