package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// DescriptorSets holds one set per swapchain image, each binding the shared
// top-level structure and that image's view as the output image.
type DescriptorSets struct {
	Pool metadata.DescriptorPoolHandle
	Sets []metadata.DescriptorSetHandle

	device Device
}

func NewDescriptorSets(device Device, layout metadata.DescriptorSetLayoutHandle, tlas *AccelerationStructure, swapchain Swapchain) (*DescriptorSets, error) {
	if tlas == nil || tlas.Handle == 0 || tlas.Type != metadata.AccelerationStructureTypeTopLevel {
		return nil, fmt.Errorf("%w: descriptor sets need a live top-level structure", core.ErrInvalidAccelerationStructure)
	}

	count := swapchain.ImageCount()
	sizes := []metadata.DescriptorPoolSize{
		{Type: metadata.DescriptorTypeAccelerationStructure, Count: count},
		{Type: metadata.DescriptorTypeStorageImage, Count: count},
	}
	pool, err := device.CreateDescriptorPool(sizes, count)
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor pool: %w", err)
	}

	sets, err := device.AllocateDescriptorSets(pool, layout, count)
	if err != nil {
		device.DestroyDescriptorPool(pool)
		return nil, fmt.Errorf("failed to allocate %d descriptor sets: %w", count, err)
	}
	for i, set := range sets {
		device.WriteDescriptorSet(set, tlas.Handle, swapchain.ImageView(uint32(i)))
	}
	core.LogDebug("%d descriptor sets written", len(sets))

	return &DescriptorSets{
		Pool:   pool,
		Sets:   sets,
		device: device,
	}, nil
}

// ForImage returns the set bound to the swapchain image at index.
func (d *DescriptorSets) ForImage(index uint32) metadata.DescriptorSetHandle {
	return d.Sets[index]
}

// Destroy frees the pool and with it every set allocated from it.
func (d *DescriptorSets) Destroy() {
	if d.Pool == 0 {
		return
	}
	d.device.DestroyDescriptorPool(d.Pool)
	d.Pool = 0
	d.Sets = nil
}
