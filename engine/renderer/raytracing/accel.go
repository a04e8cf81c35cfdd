package raytracing

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/google/uuid"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/math"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

const (
	buildInputUsage = metadata.BufferUsageAccelerationStructureBuildInputReadOnly | metadata.BufferUsageShaderDeviceAddress
	hostMemory      = metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent
	vertexStride    = 3 * 4
)

// Mesh is indexed triangle geometry with tightly packed float positions.
type Mesh struct {
	Vertices []math.Vec3
	Indices  []uint32
}

// TriangleMesh is the single triangle the demo renders.
func TriangleMesh() Mesh {
	return Mesh{
		Vertices: []math.Vec3{
			math.NewVec3(1, 1, 0),
			math.NewVec3(-1, 1, 0),
			math.NewVec3(0, -1, 0),
		},
		Indices: []uint32{0, 1, 2},
	}
}

func (m Mesh) PrimitiveCount() uint32 {
	return uint32(len(m.Indices) / 3)
}

func (m Mesh) Validate() error {
	if len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return core.ErrEmptyGeometry
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			return fmt.Errorf("index %d at position %d is out of range (vertices=%d)", idx, i, len(m.Vertices))
		}
	}
	return nil
}

func (m Mesh) vertexBytes() []byte {
	out := make([]byte, 0, len(m.Vertices)*vertexStride)
	for _, v := range m.Vertices {
		out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(v.X))
		out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(v.Y))
		out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(v.Z))
	}
	return out
}

func (m Mesh) indexBytes() []byte {
	out := make([]byte, 0, len(m.Indices)*4)
	for _, idx := range m.Indices {
		out = binary.LittleEndian.AppendUint32(out, idx)
	}
	return out
}

// SceneInstance places a bottom-level structure in the top-level structure.
type SceneInstance struct {
	BottomLevel *AccelerationStructure
	Transform   math.Mat4
	CustomIndex uint32
}

// InstanceOf returns an untransformed instance of blas.
func InstanceOf(blas *AccelerationStructure) SceneInstance {
	return SceneInstance{
		BottomLevel: blas,
		Transform:   math.NewMat4Identity(),
	}
}

// AccelerationStructure is a built structure together with the buffers it owns.
type AccelerationStructure struct {
	ID             uuid.UUID
	Type           metadata.AccelerationStructureType
	Handle         metadata.AccelerationStructureHandle
	Buffer         *Buffer
	Address        metadata.DeviceAddress
	PrimitiveCount uint32

	device Device
	// Geometry or instance buffers read by the build.
	inputs []*Buffer
	// Bottom-level structures referenced by a top-level structure.
	children []*AccelerationStructure
	// Number of live top-level structures referencing this one.
	references int
}

// Destroy releases the structure and every buffer it owns. A bottom-level
// structure that is still referenced is left untouched.
func (as *AccelerationStructure) Destroy() error {
	if as.Handle == 0 {
		return nil
	}
	if as.references > 0 {
		return fmt.Errorf("%w: %s %s has %d references", core.ErrAccelerationStructureInUse, as.Type, as.ID, as.references)
	}
	as.device.DestroyAccelerationStructure(as.Handle)
	as.Buffer.Destroy()
	for _, b := range as.inputs {
		b.Destroy()
	}
	for _, c := range as.children {
		c.references--
	}
	as.Handle = 0
	as.Address = 0
	as.inputs = nil
	as.children = nil
	core.LogDebug("%s acceleration structure %s destroyed", as.Type, as.ID)
	return nil
}

// Builder builds acceleration structures synchronously, one at a time.
type Builder struct {
	device Device
}

func NewBuilder(device Device) *Builder {
	return &Builder{device: device}
}

// Build queries the sizes, allocates the storage, records the build in a
// one-shot command buffer and waits for it to finish.
func (b *Builder) Build(asType metadata.AccelerationStructureType, geometry metadata.AccelerationStructureGeometry, primitiveCount uint32) (*AccelerationStructure, error) {
	if primitiveCount == 0 {
		return nil, core.ErrEmptyGeometry
	}

	sizes := b.device.AccelerationStructureBuildSizes(asType, geometry, primitiveCount)
	core.LogDebug("%s build sizes: storage=%d scratch=%d primitives=%d", asType, sizes.StorageSize, sizes.ScratchSize, primitiveCount)

	storage, err := NewBuffer(b.device, sizes.StorageSize,
		metadata.BufferUsageAccelerationStructureStorage|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyDeviceLocal, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %s storage: %w", asType, err)
	}

	handle, err := b.device.CreateAccelerationStructure(asType, storage.Handle, sizes.StorageSize)
	if err != nil {
		storage.Destroy()
		return nil, fmt.Errorf("failed to create %s acceleration structure: %w", asType, err)
	}

	err = b.withScratchBuffer(sizes.ScratchSize, func(scratch metadata.DeviceAddress) error {
		return b.device.ExecuteSingleUse(func(cmd CommandBuffer) error {
			cmd.BuildAccelerationStructure(asType, geometry, handle, scratch, primitiveCount)
			return nil
		})
	})
	if err != nil {
		b.device.DestroyAccelerationStructure(handle)
		storage.Destroy()
		return nil, fmt.Errorf("failed to build %s acceleration structure: %w", asType, err)
	}

	as := &AccelerationStructure{
		ID:             uuid.New(),
		Type:           asType,
		Handle:         handle,
		Buffer:         storage,
		Address:        b.device.AccelerationStructureDeviceAddress(handle),
		PrimitiveCount: primitiveCount,
		device:         b.device,
	}
	core.LogInfo("%s acceleration structure %s built at 0x%x", asType, as.ID, uint64(as.Address))
	return as, nil
}

// withScratchBuffer lends fn a scratch buffer that is released on every
// return path, after fn has waited for the build to complete. The buffer is
// over-allocated so the address handed to fn meets the device's scratch
// offset alignment.
func (b *Builder) withScratchBuffer(size uint64, fn func(scratch metadata.DeviceAddress) error) error {
	alignment := uint64(b.device.RayTracingProperties().MinScratchOffsetAlignment)
	if !metadata.IsPowerOfTwo(alignment) {
		err := fmt.Errorf("%w: scratch offset alignment %d", core.ErrInvalidAlignment, alignment)
		core.LogError(err.Error())
		return err
	}

	scratch, err := NewBuffer(b.device, size+alignment-1,
		metadata.BufferUsageStorageBuffer|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyDeviceLocal, nil)
	if err != nil {
		return fmt.Errorf("failed to allocate scratch buffer: %w", err)
	}
	defer scratch.Destroy()

	address, err := scratch.DeviceAddress()
	if err != nil {
		return err
	}
	return fn(metadata.GetAligned(address, metadata.DeviceAddress(alignment)))
}

// BuildBottomLevel uploads mesh into build-input buffers owned by the
// resulting structure and builds over its triangles.
func (b *Builder) BuildBottomLevel(mesh Mesh) (*AccelerationStructure, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}

	vertexData := mesh.vertexBytes()
	vertices, err := NewBuffer(b.device, uint64(len(vertexData)), buildInputUsage, hostMemory, vertexData)
	if err != nil {
		return nil, fmt.Errorf("failed to upload vertices: %w", err)
	}
	indexData := mesh.indexBytes()
	indices, err := NewBuffer(b.device, uint64(len(indexData)), buildInputUsage, hostMemory, indexData)
	if err != nil {
		vertices.Destroy()
		return nil, fmt.Errorf("failed to upload indices: %w", err)
	}

	vertexAddress, _ := vertices.DeviceAddress()
	indexAddress, _ := indices.DeviceAddress()
	geometry := metadata.AccelerationStructureGeometry{
		Type:  metadata.GeometryTypeTriangles,
		Flags: metadata.GeometryOpaque,
		Triangles: metadata.TrianglesGeometry{
			VertexData:   vertexAddress,
			VertexStride: vertexStride,
			MaxVertex:    uint32(len(mesh.Vertices) - 1),
			IndexData:    indexAddress,
		},
	}

	as, err := b.Build(metadata.AccelerationStructureTypeBottomLevel, geometry, mesh.PrimitiveCount())
	if err != nil {
		vertices.Destroy()
		indices.Destroy()
		return nil, err
	}
	as.inputs = []*Buffer{vertices, indices}
	return as, nil
}

// BuildTopLevel encodes one instance record per entry and builds over them.
// Every referenced bottom-level structure stays alive until the returned
// structure is destroyed.
func (b *Builder) BuildTopLevel(instances []SceneInstance) (*AccelerationStructure, error) {
	if len(instances) == 0 {
		return nil, core.ErrEmptyGeometry
	}

	records := make([]metadata.AccelerationStructureInstance, len(instances))
	for i, inst := range instances {
		blas := inst.BottomLevel
		if blas == nil || blas.Handle == 0 || blas.Type != metadata.AccelerationStructureTypeBottomLevel {
			return nil, fmt.Errorf("%w: instance %d does not reference a live bottom-level structure", core.ErrInvalidAccelerationStructure, i)
		}
		records[i] = metadata.NewInstance(blas.Address)
		records[i].Transform = metadata.TransformFromMat4(inst.Transform)
		records[i].CustomIndex = inst.CustomIndex
	}
	data, err := metadata.EncodeInstances(records)
	if err != nil {
		return nil, err
	}

	instanceBuffer, err := NewBuffer(b.device, uint64(len(data)), buildInputUsage, hostMemory, data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload instances: %w", err)
	}
	instanceAddress, _ := instanceBuffer.DeviceAddress()
	geometry := metadata.AccelerationStructureGeometry{
		Type:  metadata.GeometryTypeInstances,
		Flags: metadata.GeometryOpaque,
		Instances: metadata.InstancesGeometry{
			Data: instanceAddress,
		},
	}

	as, err := b.Build(metadata.AccelerationStructureTypeTopLevel, geometry, uint32(len(records)))
	if err != nil {
		instanceBuffer.Destroy()
		return nil, err
	}
	as.inputs = []*Buffer{instanceBuffer}
	for _, inst := range instances {
		inst.BottomLevel.references++
		as.children = append(as.children, inst.BottomLevel)
	}
	return as, nil
}
