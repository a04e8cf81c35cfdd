package metadata

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/raytracer/engine/math"
)

// InstanceSize is the size in bytes of one encoded top-level instance record.
const InstanceSize = 64

type GeometryInstanceFlags uint8

const (
	GeometryInstanceTriangleFacingCullDisable GeometryInstanceFlags = 0x01
	GeometryInstanceTriangleFlipFacing        GeometryInstanceFlags = 0x02
	GeometryInstanceForceOpaque               GeometryInstanceFlags = 0x04
	GeometryInstanceForceNoOpaque             GeometryInstanceFlags = 0x08
)

const (
	maxCustomIndex     = 1<<24 - 1
	maxSBTRecordOffset = 1<<24 - 1
)

// AccelerationStructureInstance places one bottom-level structure in a
// top-level structure. Transform is a row-major 3x4 affine matrix.
type AccelerationStructureInstance struct {
	Transform       [3][4]float32
	CustomIndex     uint32
	Mask            uint8
	SBTRecordOffset uint32
	Flags           GeometryInstanceFlags
	Reference       DeviceAddress
}

// NewInstance returns an instance of the structure at reference with the
// identity transform, visible to every ray mask.
func NewInstance(reference DeviceAddress) AccelerationStructureInstance {
	return AccelerationStructureInstance{
		Transform: IdentityTransform(),
		Mask:      0xFF,
		Flags:     GeometryInstanceTriangleFacingCullDisable,
		Reference: reference,
	}
}

func IdentityTransform() [3][4]float32 {
	return [3][4]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// TransformFromMat4 drops the projective row of a column-major matrix.
func TransformFromMat4(m math.Mat4) [3][4]float32 {
	var t [3][4]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			t[row][col] = m.Data[col*4+row]
		}
	}
	return t
}

func (i AccelerationStructureInstance) Validate() error {
	if i.CustomIndex > maxCustomIndex {
		return fmt.Errorf("instance custom index %d does not fit in 24 bits", i.CustomIndex)
	}
	if i.SBTRecordOffset > maxSBTRecordOffset {
		return fmt.Errorf("instance shader binding table offset %d does not fit in 24 bits", i.SBTRecordOffset)
	}
	return nil
}

// AppendBytes appends the little-endian device encoding of i to dst.
func (i AccelerationStructureInstance) AppendBytes(dst []byte) []byte {
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			dst = binary.LittleEndian.AppendUint32(dst, gomath.Float32bits(i.Transform[row][col]))
		}
	}
	dst = binary.LittleEndian.AppendUint32(dst, (i.CustomIndex&maxCustomIndex)|uint32(i.Mask)<<24)
	dst = binary.LittleEndian.AppendUint32(dst, (i.SBTRecordOffset&maxSBTRecordOffset)|uint32(i.Flags)<<24)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(i.Reference))
	return dst
}

func (i AccelerationStructureInstance) Bytes() []byte {
	return i.AppendBytes(make([]byte, 0, InstanceSize))
}

// EncodeInstances packs instances back to back as the device expects them.
func EncodeInstances(instances []AccelerationStructureInstance) ([]byte, error) {
	out := make([]byte, 0, len(instances)*InstanceSize)
	for idx, inst := range instances {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("instance %d: %w", idx, err)
		}
		out = inst.AppendBytes(out)
	}
	return out, nil
}

func DecodeInstance(b []byte) (AccelerationStructureInstance, error) {
	var i AccelerationStructureInstance
	if len(b) < InstanceSize {
		return i, fmt.Errorf("instance record needs %d bytes, got %d", InstanceSize, len(b))
	}
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			i.Transform[row][col] = gomath.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
	}
	w := binary.LittleEndian.Uint32(b[48:])
	i.CustomIndex = w & maxCustomIndex
	i.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(b[52:])
	i.SBTRecordOffset = w & maxSBTRecordOffset
	i.Flags = GeometryInstanceFlags(w >> 24)
	i.Reference = DeviceAddress(binary.LittleEndian.Uint64(b[56:]))
	return i, nil
}
