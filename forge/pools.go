package forge

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// Allocation kinds understood by the vulkan backend. The numeric values
// are the corresponding vk.DescriptorType identifiers.
const (
	KindSampler              = cinder.AllocationKind(vk.DescriptorTypeSampler)
	KindCombinedImageSampler = cinder.AllocationKind(vk.DescriptorTypeCombinedImageSampler)
	KindSampledImage         = cinder.AllocationKind(vk.DescriptorTypeSampledImage)
	KindStorageImage         = cinder.AllocationKind(vk.DescriptorTypeStorageImage)
	KindUniformBuffer        = cinder.AllocationKind(vk.DescriptorTypeUniformBuffer)
	KindStorageBuffer        = cinder.AllocationKind(vk.DescriptorTypeStorageBuffer)
)

// DefaultCapacityPlan covers the descriptor mix of a typical forward
// renderer frame.
func DefaultCapacityPlan() cinder.CapacityPlan {
	return cinder.CapacityPlan{
		{Kind: KindStorageImage, Weight: 3},
		{Kind: KindStorageBuffer, Weight: 3},
		{Kind: KindUniformBuffer, Weight: 3},
		{Kind: KindCombinedImageSampler, Weight: 4},
	}
}

// Pools sources vulkan descriptor pools and descriptor sets for the
// cinder allocator.
type Pools struct {
	Device vk.Device
}

var _ cinder.PoolSource[vk.DescriptorPool, vk.DescriptorSetLayout, vk.DescriptorSet] = (*Pools)(nil)

func (p *Pools) CreatePool(plan cinder.CapacityPlan, records uint32) (vk.DescriptorPool, error) {
	sizes := poolSizes(plan, records)

	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       records,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}

	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(p.Device, &info, nil, &pool)); err != nil {
		return pool, fmt.Errorf("create descriptor pool for %d sets: %w", records, err)
	}

	return pool, nil
}

func (p *Pools) Allocate(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}

	var set vk.DescriptorSet

	switch res := vk.AllocateDescriptorSets(p.Device, &info, &set); res {
	case vk.Success:
		return set, nil

	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return set, fmt.Errorf("%w: %v", cinder.ErrPoolExhausted, vk.Error(res))

	default:
		return set, fmt.Errorf("allocate descriptor set: %w", vk.Error(res))
	}
}

func (p *Pools) ResetPool(pool vk.DescriptorPool) error {
	if err := vk.Error(vk.ResetDescriptorPool(p.Device, pool, 0)); err != nil {
		return fmt.Errorf("reset descriptor pool: %w", err)
	}

	return nil
}

func (p *Pools) DestroyPool(pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(p.Device, pool, nil)
}

func poolSizes(plan cinder.CapacityPlan, records uint32) []vk.DescriptorPoolSize {
	sizes := make([]vk.DescriptorPoolSize, 0, len(plan))

	for _, entry := range plan {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(entry.Kind),
			DescriptorCount: uint32(entry.Weight * float32(records)),
		})
	}

	return sizes
}
