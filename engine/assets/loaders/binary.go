package loaders

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// BinaryLoader reads a whole file as raw bytes.
type BinaryLoader struct{}

// Load accepts an optional map[string]string with a "name" entry; the file
// name is used otherwise.
func (bl *BinaryLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", path, err)
	}

	name := filepath.Base(path)
	if params != nil {
		p, ok := params.(map[string]string)
		if !ok {
			return nil, fmt.Errorf("failed to cast params in binary loader")
		}
		if n, ok := p["name"]; ok {
			name = n
		}
	}

	return &metadata.Resource{
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}
