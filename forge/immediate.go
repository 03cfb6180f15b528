package forge

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// immediateCommands are the one-shot submission resources of a context:
// a dedicated command buffer and an unsignaled fence, reused across
// calls. Created on first use, released by the context's cleanup queue.
type immediateCommands struct {
	commands *Commands
	fence    *fence
}

// ImmediateSubmit records a command batch outside the frame ring and
// blocks until the GPU has executed it, for uploads and other work that
// must complete before the caller continues.
func (c *Context) ImmediateSubmit(record func(cmd vk.CommandBuffer) error) error {
	if c.immediate == nil {
		imm, err := c.initImmediate()
		if err != nil {
			return fmt.Errorf("init immediate submit: %w", err)
		}

		c.immediate = imm
	}

	submit := &queueSubmitter{queue: c.Queue}

	return cinder.SubmitAndWait(c.immediate.commands, c.immediate.fence, submit, cinder.DefaultWaitTimeout, func() error {
		return record(c.immediate.commands.buffer)
	})
}

func (c *Context) initImmediate() (*immediateCommands, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: c.QueueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(c.Device, &poolInfo, nil, &pool)); err != nil {
		return nil, fmt.Errorf("create command pool: %w", err)
	}

	c.Cleanup.Push(cinder.ReleaseAction{Kind: cinder.ReleaseCommandPool, Handle: pool})

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}

	buffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(c.Device, &allocInfo, buffers)); err != nil {
		return nil, fmt.Errorf("allocate command buffer: %w", err)
	}

	// unsignaled, SubmitAndWait re-arms it after every wait
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}

	var submitFence vk.Fence
	if err := vk.Error(vk.CreateFence(c.Device, &fenceInfo, nil, &submitFence)); err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}

	c.Cleanup.Push(cinder.ReleaseAction{Kind: cinder.ReleaseFence, Handle: submitFence})

	return &immediateCommands{
		commands: &Commands{buffer: buffers[0], render: vk.NullSemaphore},
		fence:    &fence{device: c.Device, handle: submitFence},
	}, nil
}

// UploadBuffer copies data into a device-local buffer through a staging
// buffer and an immediate submit. The destination must carry the
// transfer-destination usage bit.
func (c *Context) UploadBuffer(dst AllocatedBuffer, data []byte) error {
	staging, err := c.CreateBuffer(
		vk.DeviceSize(len(data)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}

	// the immediate submit has completed before the staging buffer dies
	defer c.reaper.Release(staging.ReleaseAction())

	if err := c.WriteBuffer(staging, data); err != nil {
		return fmt.Errorf("fill staging buffer: %w", err)
	}

	return c.ImmediateSubmit(func(cmd vk.CommandBuffer) error {
		region := vk.BufferCopy{Size: vk.DeviceSize(len(data))}
		vk.CmdCopyBuffer(cmd, staging.Buffer, dst.Buffer, 1, []vk.BufferCopy{region})
		return nil
	})
}
