package forge

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

// AllocatedImage bundles a vulkan image with its identity view and
// backing memory.
type AllocatedImage struct {
	Image  vk.Image
	View   vk.ImageView
	Memory vk.DeviceMemory
	Extent vk.Extent3D
	Format vk.Format
}

// ReleaseAction returns the tagged action destroying this image, for
// registration on a deletion queue.
func (img AllocatedImage) ReleaseAction() cinder.ReleaseAction {
	return cinder.ReleaseAction{Kind: cinder.ReleaseImage, Handle: img}
}

type ImageOptions struct {
	Width  uint32
	Height uint32
	Format vk.Format
	Usage  vk.ImageUsageFlags

	// defaults to the color aspect
	Aspect vk.ImageAspectFlags
}

// CreateImage creates a 2D image with dedicated device-local memory and
// an identity view.
func (c *Context) CreateImage(opts ImageOptions) (AllocatedImage, error) {
	if opts.Aspect == 0 {
		opts.Aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}

	extent := vk.Extent3D{Width: opts.Width, Height: opts.Height, Depth: 1}

	imageInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        opts.Format,
		Extent:        extent,
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         opts.Usage,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(c.Device, &imageInfo, nil, &image)); err != nil {
		return AllocatedImage{}, fmt.Errorf("create %dx%d image: %w", opts.Width, opts.Height, err)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(c.Device, image, &memReqs)
	memReqs.Deref()

	memory, err := c.allocateMemory(memReqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(c.Device, image, nil)
		return AllocatedImage{}, err
	}

	if err := vk.Error(vk.BindImageMemory(c.Device, image, memory, 0)); err != nil {
		vk.DestroyImage(c.Device, image, nil)
		vk.FreeMemory(c.Device, memory, nil)
		return AllocatedImage{}, fmt.Errorf("bind image memory: %w", err)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   opts.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: opts.Aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(c.Device, &viewInfo, nil, &view)); err != nil {
		vk.DestroyImage(c.Device, image, nil)
		vk.FreeMemory(c.Device, memory, nil)
		return AllocatedImage{}, fmt.Errorf("create image view: %w", err)
	}

	return AllocatedImage{
		Image:  image,
		View:   view,
		Memory: memory,
		Extent: extent,
		Format: opts.Format,
	}, nil
}
