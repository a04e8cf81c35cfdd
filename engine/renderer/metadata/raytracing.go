package metadata

// DeviceAddress is a GPU-visible pointer to a buffer or acceleration structure.
type DeviceAddress uint64

// Opaque handles issued by the device layer. Zero is never a live handle.
type (
	BufferHandle                uint64
	MemoryHandle                uint64
	AccelerationStructureHandle uint64
	ShaderModuleHandle          uint64
	DescriptorSetLayoutHandle   uint64
	PipelineLayoutHandle        uint64
	PipelineHandle              uint64
	DescriptorPoolHandle        uint64
	DescriptorSetHandle         uint64
	SemaphoreHandle             uint64
	FenceHandle                 uint64
	CommandPoolHandle           uint64
	ImageHandle                 uint64
	ImageViewHandle             uint64
	FramebufferHandle           uint64
)

// The flag values below match their Vulkan counterparts bit for bit.

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc                             BufferUsageFlags = 0x00000001
	BufferUsageTransferDst                             BufferUsageFlags = 0x00000002
	BufferUsageStorageBuffer                           BufferUsageFlags = 0x00000020
	BufferUsageShaderBindingTable                      BufferUsageFlags = 0x00000400
	BufferUsageShaderDeviceAddress                     BufferUsageFlags = 0x00020000
	BufferUsageAccelerationStructureBuildInputReadOnly BufferUsageFlags = 0x00080000
	BufferUsageAccelerationStructureStorage            BufferUsageFlags = 0x00100000
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal  MemoryPropertyFlags = 0x00000001
	MemoryPropertyHostVisible  MemoryPropertyFlags = 0x00000002
	MemoryPropertyHostCoherent MemoryPropertyFlags = 0x00000004
)

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type AccelerationStructureType uint32

const (
	AccelerationStructureTypeTopLevel    AccelerationStructureType = 0
	AccelerationStructureTypeBottomLevel AccelerationStructureType = 1
)

func (t AccelerationStructureType) String() string {
	switch t {
	case AccelerationStructureTypeTopLevel:
		return "top-level"
	case AccelerationStructureTypeBottomLevel:
		return "bottom-level"
	default:
		return "unknown"
	}
}

type GeometryType uint32

const (
	GeometryTypeTriangles GeometryType = 0
	GeometryTypeInstances GeometryType = 2
)

type GeometryFlags uint32

const (
	GeometryOpaque GeometryFlags = 0x00000001
)

// TrianglesGeometry describes R32G32B32 float positions indexed by uint32 indices.
type TrianglesGeometry struct {
	VertexData   DeviceAddress
	VertexStride uint64
	MaxVertex    uint32
	IndexData    DeviceAddress
}

// InstancesGeometry points to a tightly packed array of 64-byte instance records.
type InstancesGeometry struct {
	Data DeviceAddress
}

// AccelerationStructureGeometry carries exactly one of Triangles or Instances,
// selected by Type.
type AccelerationStructureGeometry struct {
	Type      GeometryType
	Flags     GeometryFlags
	Triangles TrianglesGeometry
	Instances InstancesGeometry
}

type AccelerationStructureBuildSizes struct {
	StorageSize uint64
	ScratchSize uint64
}

type ShaderStageFlags uint32

const (
	ShaderStageRaygen       ShaderStageFlags = 0x00000100
	ShaderStageAnyHit       ShaderStageFlags = 0x00000200
	ShaderStageClosestHit   ShaderStageFlags = 0x00000400
	ShaderStageMiss         ShaderStageFlags = 0x00000800
	ShaderStageIntersection ShaderStageFlags = 0x00001000
)

func (s ShaderStageFlags) String() string {
	switch s {
	case ShaderStageRaygen:
		return "raygen"
	case ShaderStageAnyHit:
		return "anyhit"
	case ShaderStageClosestHit:
		return "closesthit"
	case ShaderStageMiss:
		return "miss"
	case ShaderStageIntersection:
		return "intersection"
	default:
		return "unknown"
	}
}

type ShaderGroupType uint32

const (
	ShaderGroupTypeGeneral            ShaderGroupType = 0
	ShaderGroupTypeTrianglesHitGroup  ShaderGroupType = 1
	ShaderGroupTypeProceduralHitGroup ShaderGroupType = 2
)

// ShaderUnused marks a shader group slot that references no stage.
const ShaderUnused uint32 = ^uint32(0)

// ShaderGroup indexes into the stage array of the pipeline it belongs to.
type ShaderGroup struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

type DescriptorType uint32

const (
	DescriptorTypeStorageImage          DescriptorType = 3
	DescriptorTypeAccelerationStructure DescriptorType = 1000150000
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStageFlags
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// RayTracingProperties are the device limits the shader binding table and
// acceleration structure builds depend on.
type RayTracingProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxRayRecursionDepth       uint32
	// Required alignment of the scratch address passed to a build.
	MinScratchOffsetAlignment uint32
}

// StridedDeviceAddressRegion is one region of a shader binding table.
type StridedDeviceAddressRegion struct {
	DeviceAddress DeviceAddress
	Stride        uint64
	Size          uint64
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

type ImageLayout uint32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachmentOptimal ImageLayout = 2
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipe                  PipelineStageFlags = 0x00000001
	PipelineStageColorAttachmentOutput      PipelineStageFlags = 0x00000400
	PipelineStageBottomOfPipe               PipelineStageFlags = 0x00002000
	PipelineStageRayTracingShader           PipelineStageFlags = 0x00200000
	PipelineStageAccelerationStructureBuild PipelineStageFlags = 0x02000000
)

type AccessFlags uint32

const (
	AccessShaderRead                 AccessFlags = 0x00000020
	AccessShaderWrite                AccessFlags = 0x00000040
	AccessColorAttachmentRead        AccessFlags = 0x00000080
	AccessColorAttachmentWrite       AccessFlags = 0x00000100
	AccessAccelerationStructureRead  AccessFlags = 0x00200000
	AccessAccelerationStructureWrite AccessFlags = 0x00400000
)

// ImageBarrier is a layout transition over the single color subresource of an image.
type ImageBarrier struct {
	Image     ImageHandle
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  PipelineStageFlags
	DstStage  PipelineStageFlags
}

// Rect2D is an area of the current framebuffer in pixels.
type Rect2D struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}
