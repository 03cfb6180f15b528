package forge

import (
	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// Reaper executes tagged release actions against a device. The handle of
// each action must be the vulkan handle type matching its kind (or the
// forge bundle type for buffers and images); anything else is a
// programmer error and panics.
type Reaper struct {
	Device vk.Device
}

func (r *Reaper) Release(action cinder.ReleaseAction) {
	switch action.Kind {
	case cinder.ReleaseBuffer:
		buf := action.Handle.(AllocatedBuffer)
		vk.DestroyBuffer(r.Device, buf.Buffer, nil)
		vk.FreeMemory(r.Device, buf.Memory, nil)

	case cinder.ReleaseImage:
		img := action.Handle.(AllocatedImage)
		vk.DestroyImageView(r.Device, img.View, nil)
		vk.DestroyImage(r.Device, img.Image, nil)
		vk.FreeMemory(r.Device, img.Memory, nil)

	case cinder.ReleaseImageView:
		vk.DestroyImageView(r.Device, action.Handle.(vk.ImageView), nil)

	case cinder.ReleaseMemory:
		vk.FreeMemory(r.Device, action.Handle.(vk.DeviceMemory), nil)

	case cinder.ReleaseSampler:
		vk.DestroySampler(r.Device, action.Handle.(vk.Sampler), nil)

	case cinder.ReleaseDescriptorPool:
		vk.DestroyDescriptorPool(r.Device, action.Handle.(vk.DescriptorPool), nil)

	case cinder.ReleaseDescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(r.Device, action.Handle.(vk.DescriptorSetLayout), nil)

	case cinder.ReleaseCommandPool:
		vk.DestroyCommandPool(r.Device, action.Handle.(vk.CommandPool), nil)

	case cinder.ReleaseFence:
		vk.DestroyFence(r.Device, action.Handle.(vk.Fence), nil)

	case cinder.ReleaseSemaphore:
		vk.DestroySemaphore(r.Device, action.Handle.(vk.Semaphore), nil)

	default:
		panic("unknown release kind: " + action.Kind.String())
	}
}
