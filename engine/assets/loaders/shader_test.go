package loaders

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spirvModule(words ...uint32) []byte {
	header := []uint32{spirvMagic, 0x00010500, 0, 1, 0}
	out := make([]byte, 0, 4*(len(header)+len(words)))
	for _, w := range append(header, words...) {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestShaderLoaderReturnsWords(t *testing.T) {
	path := writeFile(t, "raygen.rgen.spv", spirvModule(0xdeadbeef))

	loader := &ShaderLoader{}
	res, err := loader.Load(path, metadata.ResourceTypeShader, nil)
	require.NoError(t, err)

	code, ok := res.Data.([]uint32)
	require.True(t, ok)
	assert.Len(t, code, 6)
	assert.Equal(t, spirvMagic, code[0])
	assert.Equal(t, uint32(0xdeadbeef), code[5])
	assert.Equal(t, uint64(24), res.DataSize)
	assert.Equal(t, "raygen.rgen.spv", res.Name)
	assert.Equal(t, path, res.FullPath)
}

func TestShaderLoaderRejectsInvalidBinaries(t *testing.T) {
	valid := spirvModule()
	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 0x00

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unaligned", append(append([]byte(nil), valid...), 0x01)},
		{"header only partially present", valid[:8]},
		{"bad magic", badMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "shader.spv", tt.data)
			_, err := (&ShaderLoader{}).Load(path, metadata.ResourceTypeShader, nil)
			assert.ErrorIs(t, err, core.ErrInvalidShaderBinary)
		})
	}
}

func TestShaderLoaderMissingFile(t *testing.T) {
	_, err := (&ShaderLoader{}).Load(filepath.Join(t.TempDir(), "missing.spv"), metadata.ResourceTypeShader, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBinaryLoaderName(t *testing.T) {
	path := writeFile(t, "blob.bin", []byte{1, 2, 3})

	res, err := (&BinaryLoader{}).Load(path, metadata.ResourceTypeBinary, map[string]string{"name": "blob"})
	require.NoError(t, err)
	assert.Equal(t, "blob", res.Name)
	assert.Equal(t, []byte{1, 2, 3}, res.Data)

	_, err = (&BinaryLoader{}).Load(path, metadata.ResourceTypeBinary, 42)
	assert.Error(t, err)

	require.NoError(t, (&BinaryLoader{}).Unload(res))
	assert.Nil(t, res.Data)
}
