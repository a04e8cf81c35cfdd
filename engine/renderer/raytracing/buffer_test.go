package raytracing

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferUploadsInitialData(t *testing.T) {
	fd := newFakeDevice()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	b, err := NewBuffer(fd, uint64(len(data)), metadata.BufferUsageShaderDeviceAddress, hostMemory, data)
	require.NoError(t, err)

	assert.Equal(t, data, fd.memory[b.Memory])
	assert.True(t, fd.memoryAddress[b.Memory], "allocation must be address capable")
	assert.Equal(t, 1, fd.count("AllocateMemory"))
	assert.Equal(t, 1, fd.count("BindBufferMemory"))
	assert.Equal(t, 1, fd.count("MapMemory"))
	assert.Equal(t, 1, fd.count("UnmapMemory"))
	assert.NotZero(t, b.ID)

	addr, err := b.DeviceAddress()
	require.NoError(t, err)
	assert.Equal(t, fd.BufferDeviceAddress(b.Handle), addr)

	b.Destroy()
	b.Destroy()
	assert.Zero(t, fd.live("buffer"))
	assert.Zero(t, fd.live("memory"))
	assert.Empty(t, fd.badFrees)
}

func TestNewBufferValidation(t *testing.T) {
	tests := []struct {
		name  string
		size  uint64
		props metadata.MemoryPropertyFlags
		data  []byte
		want  error
	}{
		{"zero size", 0, hostMemory, nil, core.ErrInvalidBufferSize},
		{"data length mismatch", 8, hostMemory, []byte{1, 2, 3}, core.ErrInitialDataSize},
		{"data into device local memory", 4, metadata.MemoryPropertyDeviceLocal, []byte{1, 2, 3, 4}, core.ErrBufferNotHostVisible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := newFakeDevice()
			_, err := NewBuffer(fd, tt.size, metadata.BufferUsageStorageBuffer, tt.props, tt.data)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, fd.count("CreateBuffer"))
		})
	}
}

func TestNewBufferReleasesOnFailure(t *testing.T) {
	for _, step := range []string{"AllocateMemory", "BindBufferMemory"} {
		t.Run(step, func(t *testing.T) {
			fd := newFakeDevice()
			boom := errors.New("out of device memory")
			fd.failures[step] = boom

			_, err := NewBuffer(fd, 64, metadata.BufferUsageStorageBuffer, metadata.MemoryPropertyDeviceLocal, nil)
			assert.ErrorIs(t, err, boom)
			assert.Zero(t, fd.live("buffer"))
			assert.Zero(t, fd.live("memory"))
		})
	}
}

func TestBufferMapping(t *testing.T) {
	fd := newFakeDevice()
	b, err := NewBuffer(fd, 16, metadata.BufferUsageStorageBuffer, hostMemory, nil)
	require.NoError(t, err)
	defer b.Destroy()

	dst, err := b.Map()
	require.NoError(t, err)
	assert.Len(t, dst, 16)
	_, err = b.Map()
	assert.ErrorIs(t, err, core.ErrBufferAlreadyMapped)
	b.Unmap()

	_, err = b.DeviceAddress()
	assert.ErrorIs(t, err, core.ErrNoDeviceAddress)

	local, err := NewBuffer(fd, 16, metadata.BufferUsageStorageBuffer, metadata.MemoryPropertyDeviceLocal, nil)
	require.NoError(t, err)
	defer local.Destroy()
	_, err = local.Map()
	assert.ErrorIs(t, err, core.ErrBufferNotHostVisible)
}
