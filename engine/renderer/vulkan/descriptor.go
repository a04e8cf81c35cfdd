package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

/**
 * @brief Creates a descriptor pool holding at most maxSets sets. Sets are
 * never freed individually; they go away with the pool.
 */
func (vc *VulkanContext) CreateDescriptorPool(sizes []metadata.DescriptorPoolSize, maxSets uint32) (metadata.DescriptorPoolHandle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}

	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(vc.Device.LogicalDevice, &createInfo, vc.Allocator, &pool); res != vk.Success {
		return 0, vulkanError("vkCreateDescriptorPool", res)
	}
	return metadata.DescriptorPoolHandle(vc.descPools.Acquire(pool)), nil
}

func (vc *VulkanContext) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	p, err := vc.descPools.Release(uint64(pool))
	if err != nil {
		core.LogWarn("destroy descriptor pool: %s", err)
		return
	}
	_ = vc.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(vc.Device.LogicalDevice, p, vc.Allocator)
		return nil
	})
	vc.releaseDescriptorSets(pool)
}

/**
 * @brief Allocates count sets with the same layout. The handles stay valid
 * until the pool is destroyed.
 */
func (vc *VulkanContext) AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layout metadata.DescriptorSetLayoutHandle, count uint32) ([]metadata.DescriptorSetHandle, error) {
	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = vc.setLayouts.MustGet(uint64(layout))
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vc.descPools.MustGet(uint64(pool)),
		DescriptorSetCount: count,
		PSetLayouts:        layouts,
	}

	sets := make([]vk.DescriptorSet, count)
	err := vc.locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.AllocateDescriptorSets(vc.Device.LogicalDevice, &allocateInfo, &sets[0]); res != vk.Success {
			return vulkanError("vkAllocateDescriptorSets", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	handles := make([]metadata.DescriptorSetHandle, count)
	for i, s := range sets {
		handles[i] = metadata.DescriptorSetHandle(vc.descSets.Acquire(s))
	}
	vc.poolSets[pool] = append(vc.poolSets[pool], handles...)
	return handles, nil
}

func (vc *VulkanContext) releaseDescriptorSets(pool metadata.DescriptorPoolHandle) {
	for _, s := range vc.poolSets[pool] {
		if _, err := vc.descSets.Release(uint64(s)); err != nil {
			core.LogWarn("release descriptor set: %s", err)
		}
	}
	delete(vc.poolSets, pool)
}

func (vc *VulkanContext) WriteDescriptorSet(set metadata.DescriptorSetHandle, as metadata.AccelerationStructureHandle, view metadata.ImageViewHandle) {
	dstSet := vc.descSets.MustGet(uint64(set))

	var mem cMemory
	defer mem.free()

	// The structure is chained to the write rather than carried in an info array.
	asInfo := newWriteDescriptorSetAccelerationStructure(&mem, vc.accelerationStructureBits(as))
	asWrite := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		PNext:           asInfo.pointer(),
		DstSet:          dstSet,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeAccelerationStructure,
	}

	imageWrite := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          dstSet,
		DstBinding:      1,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{
			{
				ImageView:   vc.imageView(view),
				ImageLayout: vk.ImageLayoutGeneral,
			},
		},
	}

	vk.UpdateDescriptorSets(vc.Device.LogicalDevice, 2, []vk.WriteDescriptorSet{asWrite, imageWrite}, 0, nil)
}
