package forge

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// AllocatedBuffer bundles a vulkan buffer with its backing memory, which
// is everything its release action needs.
type AllocatedBuffer struct {
	Buffer vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize
}

// ReleaseAction returns the tagged action destroying this buffer, for
// registration on a deletion queue.
func (b AllocatedBuffer) ReleaseAction() cinder.ReleaseAction {
	return cinder.ReleaseAction{Kind: cinder.ReleaseBuffer, Handle: b}
}

// CreateBuffer creates a buffer with dedicated memory of the requested
// properties, bound and ready for use.
func (c *Context) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags) (AllocatedBuffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(c.Device, &info, nil, &buffer)); err != nil {
		return AllocatedBuffer{}, fmt.Errorf("create buffer of %d bytes: %w", size, err)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(c.Device, buffer, &memReqs)
	memReqs.Deref()

	memory, err := c.allocateMemory(memReqs, props)
	if err != nil {
		vk.DestroyBuffer(c.Device, buffer, nil)
		return AllocatedBuffer{}, err
	}

	if err := vk.Error(vk.BindBufferMemory(c.Device, buffer, memory, 0)); err != nil {
		vk.DestroyBuffer(c.Device, buffer, nil)
		vk.FreeMemory(c.Device, memory, nil)
		return AllocatedBuffer{}, fmt.Errorf("bind buffer memory: %w", err)
	}

	return AllocatedBuffer{Buffer: buffer, Memory: memory, Size: size}, nil
}

// WriteBuffer copies data into a host-visible buffer.
func (c *Context) WriteBuffer(buf AllocatedBuffer, data []byte) error {
	if vk.DeviceSize(len(data)) > buf.Size {
		return fmt.Errorf("write of %d bytes exceeds buffer size %d", len(data), buf.Size)
	}

	var ptr unsafe.Pointer
	if err := vk.Error(vk.MapMemory(c.Device, buf.Memory, 0, vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
		return fmt.Errorf("map buffer memory: %w", err)
	}

	copy(unsafe.Slice((*byte)(ptr), len(data)), data)

	vk.UnmapMemory(c.Device, buf.Memory)

	return nil
}

func (c *Context) allocateMemory(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	typeIndex, err := c.findMemoryType(reqs.MemoryTypeBits, props)
	if err != nil {
		return vk.NullDeviceMemory, err
	}

	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}

	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(c.Device, &info, nil, &memory)); err != nil {
		return vk.NullDeviceMemory, fmt.Errorf("allocate %d bytes of device memory: %w", reqs.Size, err)
	}

	return memory, nil
}

func (c *Context) findMemoryType(typeBits uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(c.GPU, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memType := memProps.MemoryTypes[i]
		memType.Deref()

		if typeBits&(1<<i) != 0 && memType.PropertyFlags&props == props {
			return i, nil
		}
	}

	return 0, fmt.Errorf("no memory type matches bits %#x with properties %#x", typeBits, props)
}
