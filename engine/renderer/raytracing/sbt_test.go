package raytracing

import (
	"testing"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSBTLayoutProperties(t *testing.T) {
	tests := []struct {
		name                          string
		handleSize, handleAlign, base uint32
		miss, hit                     uint32
	}{
		{"nvidia", 32, 32, 64, 1, 1},
		{"amd", 32, 32, 32, 1, 1},
		{"odd handle", 20, 16, 64, 1, 1},
		{"several miss", 32, 32, 64, 3, 2},
		{"large base", 16, 8, 256, 2, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := metadata.RayTracingProperties{
				ShaderGroupHandleSize:      tt.handleSize,
				ShaderGroupHandleAlignment: tt.handleAlign,
				ShaderGroupBaseAlignment:   tt.base,
			}
			l, err := ComputeSBTLayout(props, tt.miss, tt.hit)
			require.NoError(t, err)

			base := uint64(tt.base)
			align := uint64(tt.handleAlign)
			assert.GreaterOrEqual(t, l.HandleSizeAligned, uint64(tt.handleSize))
			assert.Zero(t, l.HandleSizeAligned%align)

			assert.Equal(t, l.RayGen.Stride, l.RayGen.Size, "raygen size equals stride")
			for _, r := range l.Regions() {
				assert.Zero(t, r.Size%base, "size is a multiple of the base alignment")
				assert.Zero(t, r.Stride%align, "stride is a multiple of the handle alignment")
				assert.Zero(t, r.Offset%base, "offset is a multiple of the base alignment")
				assert.GreaterOrEqual(t, r.Size, uint64(r.Count)*r.Stride)
			}
			assert.Equal(t, uint64(0), l.RayGen.Offset)
			assert.Equal(t, l.RayGen.Size, l.Miss.Offset)
			assert.Equal(t, l.RayGen.Size+l.Miss.Size, l.Hit.Offset)
			assert.Equal(t, l.RayGen.Size+l.Miss.Size+l.Hit.Size, l.TotalSize)
			assert.Equal(t, 1+tt.miss+tt.hit, l.GroupCount())
		})
	}
}

func TestComputeSBTLayoutKnownValues(t *testing.T) {
	l, err := ComputeSBTLayout(metadata.RayTracingProperties{
		ShaderGroupHandleSize:      32,
		ShaderGroupHandleAlignment: 32,
		ShaderGroupBaseAlignment:   64,
	}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, SBTRegionLayout{Offset: 0, Stride: 64, Size: 64, Count: 1}, l.RayGen)
	assert.Equal(t, SBTRegionLayout{Offset: 64, Stride: 32, Size: 64, Count: 1}, l.Miss)
	assert.Equal(t, SBTRegionLayout{Offset: 128, Stride: 32, Size: 64, Count: 1}, l.Hit)
	assert.Equal(t, uint64(192), l.TotalSize)
}

func TestComputeSBTLayoutRejectsBadProperties(t *testing.T) {
	tests := []struct {
		name  string
		props metadata.RayTracingProperties
		want  error
	}{
		{"zero handle", metadata.RayTracingProperties{ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 64}, core.ErrShaderHandleSize},
		{"zero handle alignment", metadata.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupBaseAlignment: 64}, core.ErrInvalidAlignment},
		{"npot handle alignment", metadata.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 24, ShaderGroupBaseAlignment: 64}, core.ErrInvalidAlignment},
		{"zero base", metadata.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32}, core.ErrInvalidAlignment},
		{"npot base", metadata.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 96}, core.ErrInvalidAlignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeSBTLayout(tt.props, 1, 1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func newTestPipeline(t *testing.T, fd *fakeDevice) *Pipeline {
	t.Helper()
	stages := loadStandardStages(t, fd)
	p, err := BuildPipeline(fd, stages, StandardShaderGroups(), 1)
	require.NoError(t, err)
	DestroyShaderStages(fd, stages)
	return p
}

func TestShaderBindingTableHandlesRoundTrip(t *testing.T) {
	fd := newFakeDevice()
	fd.props.ShaderGroupHandleSize = 20
	fd.props.ShaderGroupHandleAlignment = 16
	p := newTestPipeline(t, fd)

	sbt, err := NewShaderBindingTable(fd, p, 1, 1)
	require.NoError(t, err)

	handles := fd.groupHandles(p.Handle, 3)
	mem := fd.memory[sbt.Buffer.Memory]
	require.Len(t, mem, int(sbt.Layout.TotalSize))
	for g, region := range sbt.Layout.Regions() {
		got := mem[region.Offset : region.Offset+20]
		assert.Equal(t, handles[g*20:(g+1)*20], got, "group %d", g)
	}

	base := fd.BufferDeviceAddress(sbt.Buffer.Handle)
	assert.Equal(t, base, sbt.RayGen.DeviceAddress)
	assert.Equal(t, base+metadata.DeviceAddress(sbt.Layout.Miss.Offset), sbt.Miss.DeviceAddress)
	assert.Equal(t, base+metadata.DeviceAddress(sbt.Layout.Hit.Offset), sbt.Hit.DeviceAddress)
	assert.Equal(t, sbt.RayGen.Stride, sbt.RayGen.Size)
	assert.Equal(t, metadata.StridedDeviceAddressRegion{}, sbt.Callable)

	usage := fd.bufferUsage[sbt.Buffer.Handle]
	assert.NotZero(t, usage&metadata.BufferUsageShaderBindingTable)
	assert.NotZero(t, usage&metadata.BufferUsageShaderDeviceAddress)

	sbt.Destroy()
	sbt.Destroy()
	assert.Zero(t, fd.live("buffer"))
}

func TestShaderBindingTableGroupMismatch(t *testing.T) {
	fd := newFakeDevice()
	p := newTestPipeline(t, fd)

	_, err := NewShaderBindingTable(fd, p, 2, 1)
	assert.ErrorIs(t, err, core.ErrInvalidShaderGroup)
	assert.Zero(t, fd.count("RayTracingShaderGroupHandles"))
}
