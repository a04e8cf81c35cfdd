package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// SBTRegionLayout locates one region inside the shader binding table buffer.
type SBTRegionLayout struct {
	Offset uint64
	Stride uint64
	Size   uint64
	Count  uint32
}

// SBTLayout is computed once and used both to place the handles and to
// derive the region addresses.
type SBTLayout struct {
	HandleSize        uint64
	HandleSizeAligned uint64
	RayGen            SBTRegionLayout
	Miss              SBTRegionLayout
	Hit               SBTRegionLayout
	TotalSize         uint64
}

// Regions returns the raygen, miss and hit regions in group order.
func (l SBTLayout) Regions() []SBTRegionLayout {
	return []SBTRegionLayout{l.RayGen, l.Miss, l.Hit}
}

func (l SBTLayout) GroupCount() uint32 {
	return l.RayGen.Count + l.Miss.Count + l.Hit.Count
}

// ComputeSBTLayout lays out one raygen record followed by missCount miss
// records and hitCount hit records.
func ComputeSBTLayout(props metadata.RayTracingProperties, missCount, hitCount uint32) (SBTLayout, error) {
	handleSize := uint64(props.ShaderGroupHandleSize)
	handleAlignment := uint64(props.ShaderGroupHandleAlignment)
	baseAlignment := uint64(props.ShaderGroupBaseAlignment)

	if handleSize == 0 {
		return SBTLayout{}, fmt.Errorf("%w: zero handle size", core.ErrShaderHandleSize)
	}
	if !metadata.IsPowerOfTwo(handleAlignment) {
		return SBTLayout{}, fmt.Errorf("%w: handle alignment %d", core.ErrInvalidAlignment, handleAlignment)
	}
	if !metadata.IsPowerOfTwo(baseAlignment) {
		return SBTLayout{}, fmt.Errorf("%w: base alignment %d", core.ErrInvalidAlignment, baseAlignment)
	}

	aligned := metadata.GetAligned(handleSize, handleAlignment)
	l := SBTLayout{
		HandleSize:        handleSize,
		HandleSizeAligned: aligned,
	}

	raygenSize := metadata.GetAligned(aligned, baseAlignment)
	l.RayGen = SBTRegionLayout{
		Offset: 0,
		Stride: raygenSize,
		Size:   raygenSize,
		Count:  1,
	}
	l.Miss = SBTRegionLayout{
		Offset: l.RayGen.Size,
		Stride: aligned,
		Size:   metadata.GetAligned(uint64(missCount)*aligned, baseAlignment),
		Count:  missCount,
	}
	l.Hit = SBTRegionLayout{
		Offset: l.RayGen.Size + l.Miss.Size,
		Stride: aligned,
		Size:   metadata.GetAligned(uint64(hitCount)*aligned, baseAlignment),
		Count:  hitCount,
	}
	l.TotalSize = l.RayGen.Size + l.Miss.Size + l.Hit.Size
	return l, nil
}

// ShaderBindingTable owns the buffer holding the group handles and the
// regions passed to every trace call.
type ShaderBindingTable struct {
	Buffer   *Buffer
	Layout   SBTLayout
	RayGen   metadata.StridedDeviceAddressRegion
	Miss     metadata.StridedDeviceAddressRegion
	Hit      metadata.StridedDeviceAddressRegion
	Callable metadata.StridedDeviceAddressRegion
}

// NewShaderBindingTable fetches the group handles of pipeline and copies
// them into a host-visible buffer laid out by ComputeSBTLayout. Groups are
// expected in raygen, miss, hit order.
func NewShaderBindingTable(device Device, pipeline *Pipeline, missCount, hitCount uint32) (*ShaderBindingTable, error) {
	layout, err := ComputeSBTLayout(device.RayTracingProperties(), missCount, hitCount)
	if err != nil {
		return nil, err
	}
	if layout.GroupCount() != pipeline.GroupCount {
		return nil, fmt.Errorf("%w: layout has %d groups, pipeline has %d", core.ErrInvalidShaderGroup, layout.GroupCount(), pipeline.GroupCount)
	}

	handleSize := int(layout.HandleSize)
	dataSize := int(pipeline.GroupCount) * handleSize
	handles, err := device.RayTracingShaderGroupHandles(pipeline.Handle, pipeline.GroupCount, dataSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get shader group handles: %w", err)
	}
	if len(handles) != dataSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", core.ErrShaderHandleSize, len(handles), dataSize)
	}

	buffer, err := NewBuffer(device, layout.TotalSize,
		metadata.BufferUsageShaderBindingTable|metadata.BufferUsageShaderDeviceAddress|metadata.BufferUsageTransferSrc,
		hostMemory, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate shader binding table: %w", err)
	}

	dst, err := buffer.Map()
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	group := 0
	for _, region := range layout.Regions() {
		for i := uint32(0); i < region.Count; i++ {
			offset := region.Offset + uint64(i)*region.Stride
			copy(dst[offset:offset+layout.HandleSize], handles[group*handleSize:(group+1)*handleSize])
			group++
		}
	}
	buffer.Unmap()

	base, err := buffer.DeviceAddress()
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	sbt := &ShaderBindingTable{
		Buffer:   buffer,
		Layout:   layout,
		RayGen:   regionAt(base, layout.RayGen),
		Miss:     regionAt(base, layout.Miss),
		Hit:      regionAt(base, layout.Hit),
		Callable: metadata.StridedDeviceAddressRegion{},
	}
	core.LogDebug("shader binding table: raygen=%d/%d miss=%d/%d hit=%d/%d total=%d",
		layout.RayGen.Stride, layout.RayGen.Size,
		layout.Miss.Stride, layout.Miss.Size,
		layout.Hit.Stride, layout.Hit.Size,
		layout.TotalSize)
	return sbt, nil
}

func regionAt(base metadata.DeviceAddress, r SBTRegionLayout) metadata.StridedDeviceAddressRegion {
	return metadata.StridedDeviceAddressRegion{
		DeviceAddress: base + metadata.DeviceAddress(r.Offset),
		Stride:        r.Stride,
		Size:          r.Size,
	}
}

func (s *ShaderBindingTable) Destroy() {
	if s.Buffer != nil {
		s.Buffer.Destroy()
		s.Buffer = nil
	}
}
