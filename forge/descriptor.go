package forge

import (
	"fmt"
	"strings"

	vk "github.com/goki/vulkan"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/substrate-gfx/ember/cinder"
)

// LayoutBuilder accumulates descriptor set layout bindings. Each binding
// holds a single descriptor of the given kind; stage flags are applied to
// all bindings at Build time.
type LayoutBuilder struct {
	bindings []vk.DescriptorSetLayoutBinding
}

func (b *LayoutBuilder) AddBinding(binding uint32, kind cinder.AllocationKind) *LayoutBuilder {
	b.bindings = append(b.bindings, vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  vk.DescriptorType(kind),
		DescriptorCount: 1,
	})

	return b
}

func (b *LayoutBuilder) Clear() {
	b.bindings = b.bindings[:0]
}

func (b *LayoutBuilder) Build(device vk.Device, stages vk.ShaderStageFlags) (vk.DescriptorSetLayout, error) {
	for i := range b.bindings {
		b.bindings[i].StageFlags |= stages
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(b.bindings)),
		PBindings:    b.bindings,
	}

	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(device, &info, nil, &layout)); err != nil {
		return layout, fmt.Errorf("create descriptor set layout: %w", err)
	}

	return layout, nil
}

// signature of the layout a builder would produce, used as cache key
func (b *LayoutBuilder) signature(stages vk.ShaderStageFlags) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "s%x", stages)
	for _, binding := range b.bindings {
		fmt.Fprintf(&sb, "|%d:%d:%x", binding.Binding, binding.DescriptorType, binding.StageFlags)
	}

	return sb.String()
}

// LayoutCache builds descriptor set layouts on demand and reuses them
// across frames. Evicted layouts are destroyed; vulkan permits that once
// they are no longer needed for set allocation or updates.
type LayoutCache struct {
	device vk.Device
	cache  *lru.Cache[string, vk.DescriptorSetLayout]
}

func NewLayoutCache(device vk.Device) *LayoutCache {
	cache, _ := lru.NewWithEvict(64, func(_ string, layout vk.DescriptorSetLayout) {
		vk.DestroyDescriptorSetLayout(device, layout, nil)
	})

	return &LayoutCache{
		device: device,
		cache:  cache,
	}
}

func (lc *LayoutCache) Get(builder *LayoutBuilder, stages vk.ShaderStageFlags) (vk.DescriptorSetLayout, error) {
	key := builder.signature(stages)

	layout, ok := lc.cache.Get(key)
	if ok {
		return layout, nil
	}

	layout, err := builder.Build(lc.device, stages)
	if err != nil {
		return layout, err
	}

	lc.cache.Add(key, layout)

	return layout, nil
}

// Release destroys all cached layouts.
func (lc *LayoutCache) Release() {
	lc.cache.Purge()
}

// Writer batches descriptor writes against binding indices and applies
// them to a set in one update call. A Writer can be reused via Clear.
type Writer struct {
	writes []vk.WriteDescriptorSet
}

func (w *Writer) WriteBuffer(binding uint32, buffer vk.Buffer, size, offset vk.DeviceSize, kind cinder.AllocationKind) *Writer {
	info := vk.DescriptorBufferInfo{
		Buffer: buffer,
		Offset: offset,
		Range:  size,
	}

	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorType(kind),
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	})

	return w
}

func (w *Writer) WriteImage(binding uint32, view vk.ImageView, sampler vk.Sampler, layout vk.ImageLayout, kind cinder.AllocationKind) *Writer {
	info := vk.DescriptorImageInfo{
		Sampler:     sampler,
		ImageView:   view,
		ImageLayout: layout,
	}

	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorType(kind),
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})

	return w
}

func (w *Writer) Clear() {
	w.writes = w.writes[:0]
}

// UpdateSet points every queued write at the given set and flushes them
// to the device.
func (w *Writer) UpdateSet(device vk.Device, set vk.DescriptorSet) {
	for i := range w.writes {
		w.writes[i].DstSet = set
	}

	vk.UpdateDescriptorSets(device, uint32(len(w.writes)), w.writes, 0, nil)
}
