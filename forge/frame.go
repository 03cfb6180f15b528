package forge

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// Frame is a frame slot over vulkan handle types.
type Frame = cinder.Slot[vk.DescriptorPool, vk.DescriptorSetLayout, vk.DescriptorSet]

// FrameRing is the slot ring over vulkan handle types.
type FrameRing = cinder.Ring[vk.DescriptorPool, vk.DescriptorSetLayout, vk.DescriptorSet]

// fence adapts a vk.Fence to cinder.CompletionSignal.
type fence struct {
	device vk.Device
	handle vk.Fence
}

func (f *fence) Wait(timeout time.Duration) error {
	res := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))

	switch res {
	case vk.Success:
		return nil

	case vk.Timeout:
		return fmt.Errorf("%w after %s", cinder.ErrWaitTimeout, timeout)

	default:
		return fmt.Errorf("wait for fence: %w", vk.Error(res))
	}
}

func (f *fence) Reset() error {
	if err := vk.Error(vk.ResetFences(f.device, 1, []vk.Fence{f.handle})); err != nil {
		return fmt.Errorf("reset fence: %w", err)
	}

	return nil
}

// Commands records one frame's work into a primary command buffer. The
// bundled render semaphore, when present, is signaled when the frame's
// submission finishes, for consumption by a presentation engine.
type Commands struct {
	buffer vk.CommandBuffer
	render vk.Semaphore
}

func (c *Commands) Buffer() vk.CommandBuffer {
	return c.buffer
}

// RenderSemaphore returns the per-frame ordering semaphore, or
// vk.NullSemaphore on a ring built without them.
func (c *Commands) RenderSemaphore() vk.Semaphore {
	return c.render
}

// submitInfo describes one queue submission of the recorded buffer. A
// binary semaphore must have a waiter between signals, so it is only
// attached when the ring was built with semaphores and a presentation
// engine consumes them.
func (c *Commands) submitInfo() vk.SubmitInfo {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.buffer},
	}

	if c.render != vk.NullSemaphore {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{c.render}
	}

	return info
}

func (c *Commands) Begin() error {
	if err := vk.Error(vk.ResetCommandBuffer(c.buffer, 0)); err != nil {
		return fmt.Errorf("reset command buffer: %w", err)
	}

	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if err := vk.Error(vk.BeginCommandBuffer(c.buffer, &info)); err != nil {
		return fmt.Errorf("begin command buffer: %w", err)
	}

	return nil
}

func (c *Commands) End() error {
	if err := vk.Error(vk.EndCommandBuffer(c.buffer)); err != nil {
		return fmt.Errorf("end command buffer: %w", err)
	}

	return nil
}

// queueSubmitter submits frame recordings to the graphics queue, arming
// the frame's fence and signaling its render semaphore if it has one.
type queueSubmitter struct {
	queue vk.Queue
}

func (s *queueSubmitter) Submit(commands cinder.CommandContext, done cinder.CompletionSignal) error {
	submit := commands.(*Commands).submitInfo()

	if err := vk.Error(vk.QueueSubmit(s.queue, 1, []vk.SubmitInfo{submit}, done.(*fence).handle)); err != nil {
		return fmt.Errorf("queue submit: %w", err)
	}

	return nil
}

type FrameRingOptions struct {
	// number of buffered frames, defaults to 2
	Slots int

	// per-kind record reservations, defaults to DefaultCapacityPlan
	Plan cinder.CapacityPlan

	// record capacity of each slot's seed pool, defaults to 1000
	InitialRecords uint32

	// create a per-slot render semaphore that a presentation engine
	// waits on every frame. A binary semaphore left unwaited must not
	// be signaled twice, so rings without a presentation engine leave
	// this off.
	RenderSemaphores bool

	WaitTimeout time.Duration
}

// NewFrameRing builds the frame slot ring: per slot one command pool with
// a primary buffer, one pre-signaled fence, an optional render semaphore
// and one record allocator. The sync and command objects are registered on the
// context's process-lifetime deletion queue; pools are owned by the ring
// and destroyed by FrameRing.Destroy.
func NewFrameRing(ctx *Context, opts FrameRingOptions) (*FrameRing, error) {
	if opts.Slots == 0 {
		opts.Slots = 2
	}

	if opts.Plan == nil {
		opts.Plan = DefaultCapacityPlan()
	}

	if opts.InitialRecords == 0 {
		opts.InitialRecords = 1000
	}

	source := &Pools{Device: ctx.Device}

	// a failed slot build must not leak the seed pools of earlier slots
	slots, err := cinder.BuildSlots(source, opts.Slots, func(int) (*Frame, error) {
		return newFrameSlot(ctx, source, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("build frame slots: %w", err)
	}

	ring := cinder.NewRing(slots, source, ctx.ReleaseTarget(), &queueSubmitter{queue: ctx.Queue})

	if opts.WaitTimeout > 0 {
		ring.SetWaitTimeout(opts.WaitTimeout)
	}

	return ring, nil
}

func newFrameSlot(ctx *Context, source *Pools, opts FrameRingOptions) (*Frame, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.QueueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(ctx.Device, &poolInfo, nil, &commandPool)); err != nil {
		return nil, fmt.Errorf("create command pool: %w", err)
	}

	ctx.Cleanup.Push(cinder.ReleaseAction{Kind: cinder.ReleaseCommandPool, Handle: commandPool})

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}

	buffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(ctx.Device, &allocInfo, buffers)); err != nil {
		return nil, fmt.Errorf("allocate command buffer: %w", err)
	}

	// created signaled so the first cycle's wait returns right away
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}

	var renderFence vk.Fence
	if err := vk.Error(vk.CreateFence(ctx.Device, &fenceInfo, nil, &renderFence)); err != nil {
		return nil, fmt.Errorf("create render fence: %w", err)
	}

	ctx.Cleanup.Push(cinder.ReleaseAction{Kind: cinder.ReleaseFence, Handle: renderFence})

	renderSemaphore := vk.NullSemaphore
	if opts.RenderSemaphores {
		semInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}

		if err := vk.Error(vk.CreateSemaphore(ctx.Device, &semInfo, nil, &renderSemaphore)); err != nil {
			return nil, fmt.Errorf("create render semaphore: %w", err)
		}

		ctx.Cleanup.Push(cinder.ReleaseAction{Kind: cinder.ReleaseSemaphore, Handle: renderSemaphore})
	}

	descriptors, err := cinder.NewAllocator[vk.DescriptorPool, vk.DescriptorSetLayout, vk.DescriptorSet](source, opts.Plan, opts.InitialRecords)
	if err != nil {
		return nil, fmt.Errorf("create frame descriptor allocator: %w", err)
	}

	return &Frame{
		Completion:  &fence{device: ctx.Device, handle: renderFence},
		Commands:    &Commands{buffer: buffers[0], render: renderSemaphore},
		Descriptors: descriptors,
		Cleanup:     &cinder.DeletionQueue{},
	}, nil
}
