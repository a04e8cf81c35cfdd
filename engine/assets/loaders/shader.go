package loaders

import (
	"fmt"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

// SPIR-V header: magic, version, generator, bound, schema.
const spirvHeaderWords = 5

// ShaderLoader reads a compiled SPIR-V module. The resource data is the
// module as []uint32 words.
type ShaderLoader struct {
	binary BinaryLoader
}

func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	res, err := sl.binary.Load(path, metadata.ResourceTypeBinary, params)
	if err != nil {
		return nil, err
	}
	code, err := bytesToBytecode(res.Data.([]byte))
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %s", core.ErrInvalidShaderBinary, path, err)
	}
	res.Data = code
	return res, nil
}

func (sl *ShaderLoader) Unload(res *metadata.Resource) error {
	return sl.binary.Unload(res)
}

func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("size %d is not a multiple of 4", len(b))
	}
	if len(b) < spirvHeaderWords*4 {
		return nil, fmt.Errorf("size %d is smaller than the module header", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	if byteCode[0] != spirvMagic {
		return nil, fmt.Errorf("bad magic number 0x%08x", byteCode[0])
	}
	return byteCode, nil
}
