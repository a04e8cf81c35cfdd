package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/spaghettifunk/raytracer/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLayout(t *testing.T) {
	inst := AccelerationStructureInstance{
		Transform:       IdentityTransform(),
		CustomIndex:     0x123456,
		Mask:            0xAB,
		SBTRecordOffset: 0x000102,
		Flags:           GeometryInstanceForceOpaque,
		Reference:       0xDEADBEEF00C0FFEE,
	}

	b := inst.Bytes()
	require.Len(t, b, InstanceSize)

	// Row 0 starts with 1.0, row 1 has its 1.0 at column 1.
	assert.Equal(t, uint32(0x3F800000), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(0x3F800000), binary.LittleEndian.Uint32(b[20:]))
	assert.Equal(t, uint32(0xAB123456), binary.LittleEndian.Uint32(b[48:]))
	assert.Equal(t, uint32(0x04000102), binary.LittleEndian.Uint32(b[52:]))
	assert.Equal(t, uint64(0xDEADBEEF00C0FFEE), binary.LittleEndian.Uint64(b[56:]))

	decoded, err := DecodeInstance(b)
	require.NoError(t, err)
	assert.Equal(t, inst, decoded)
}

func TestNewInstanceDefaults(t *testing.T) {
	inst := NewInstance(0x1000)
	assert.Equal(t, uint8(0xFF), inst.Mask)
	assert.Equal(t, IdentityTransform(), inst.Transform)
	assert.Equal(t, DeviceAddress(0x1000), inst.Reference)
	assert.Zero(t, inst.CustomIndex)
	assert.Zero(t, inst.SBTRecordOffset)
}

func TestEncodeInstancesRejectsWideFields(t *testing.T) {
	inst := NewInstance(1)
	inst.CustomIndex = 1 << 24
	_, err := EncodeInstances([]AccelerationStructureInstance{inst})
	assert.Error(t, err)

	inst = NewInstance(1)
	inst.SBTRecordOffset = 1 << 24
	_, err = EncodeInstances([]AccelerationStructureInstance{inst})
	assert.Error(t, err)
}

func TestEncodeInstancesPacksRecords(t *testing.T) {
	out, err := EncodeInstances([]AccelerationStructureInstance{NewInstance(1), NewInstance(2)})
	require.NoError(t, err)
	require.Len(t, out, 2*InstanceSize)

	second, err := DecodeInstance(out[InstanceSize:])
	require.NoError(t, err)
	assert.Equal(t, DeviceAddress(2), second.Reference)
}

func TestDecodeInstanceShortBuffer(t *testing.T) {
	_, err := DecodeInstance(make([]byte, InstanceSize-1))
	assert.Error(t, err)
}

func TestTransformFromMat4(t *testing.T) {
	assert.Equal(t, IdentityTransform(), TransformFromMat4(math.NewMat4Identity()))

	m := math.NewMat4Translation(math.NewVec3(1, 2, 3))
	tr := TransformFromMat4(m)
	assert.Equal(t, float32(1), tr[0][3])
	assert.Equal(t, float32(2), tr[1][3])
	assert.Equal(t, float32(3), tr[2][3])
}
