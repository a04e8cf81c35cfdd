package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/raytracer/engine/core"
	gmath "github.com/spaghettifunk/raytracer/engine/math"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

// VulkanSwapchain implements raytracing.Swapchain. Its images are written
// directly by the ray generation shader, so they carry storage usage next to
// color attachment usage.
type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	extent      vk.Extent2D
	imageCount  uint32
	Images      []vk.Image
	Views       []vk.ImageView

	// framebuffers used for the overlay pass.
	Framebuffers []*VulkanFramebuffer

	context      *VulkanContext
	imageHandles []metadata.ImageHandle
	viewHandles  []metadata.ImageViewHandle
	fbHandles    []metadata.FramebufferHandle
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

// ParsePresentMode maps the configuration name of a present mode.
func ParsePresentMode(name string) (vk.PresentMode, error) {
	switch name {
	case "fifo", "":
		return vk.PresentModeFifo, nil
	case "mailbox":
		return vk.PresentModeMailbox, nil
	default:
		return vk.PresentModeFifo, fmt.Errorf("%w: unknown present mode '%s'", core.ErrInvalidConfig, name)
	}
}

// choosePresentMode falls back to FIFO, which every device supports.
func choosePresentMode(preferred vk.PresentMode, available []vk.PresentMode) vk.PresentMode {
	for _, mode := range available {
		if mode == preferred {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		format.Deref()
		// Preferred formats
		if format.Format == VULKAN_SWAPCHAIN_FORMAT && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	formats[0].Deref()
	return formats[0]
}

func chooseExtent(capabilities vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	capabilities.CurrentExtent.Deref()
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()
	min := capabilities.MinImageExtent
	max := capabilities.MaxImageExtent
	return vk.Extent2D{
		Width:  gmath.Clamp(width, min.Width, max.Width),
		Height: gmath.Clamp(height, min.Height, max.Height),
	}
}

func SwapchainCreate(context *VulkanContext, width, height uint32, presentMode vk.PresentMode) (*VulkanSwapchain, error) {
	support := &context.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, support); err != nil {
		return nil, err
	}
	support.Capabilities.Deref()

	swapchain := &VulkanSwapchain{
		context:     context,
		ImageFormat: chooseSurfaceFormat(support.Formats),
		extent:      chooseExtent(support.Capabilities, width, height),
	}
	mode := choosePresentMode(presentMode, support.PresentModes)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.extent,
		ImageArrayLayers: 1,
		// Storage for the ray generation shader, color attachment for the overlay.
		ImageUsage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageStorageBit),
		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    mode,
		Clipped:        vk.True,
	}

	// Setup the queue family indices
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		return nil, vulkanError("vkCreateSwapchainKHR", res)
	}
	swapchain.Handle = swapchainHandle

	// Images
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.imageCount, nil); res != vk.Success {
		swapchain.destroySwapchain()
		return nil, vulkanError("vkGetSwapchainImagesKHR", res)
	}
	swapchain.Images = make([]vk.Image, swapchain.imageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.imageCount, swapchain.Images); res != vk.Success {
		swapchain.destroySwapchain()
		return nil, vulkanError("vkGetSwapchainImagesKHR", res)
	}

	// Views
	swapchain.Views = make([]vk.ImageView, 0, swapchain.imageCount)
	for i := 0; i < int(swapchain.imageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    swapchain.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}

		var view vk.ImageView
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
			swapchain.destroySwapchain()
			return nil, vulkanError("vkCreateImageView", res)
		}
		swapchain.Views = append(swapchain.Views, view)
		swapchain.imageHandles = append(swapchain.imageHandles, metadata.ImageHandle(context.images.Acquire(swapchain.Images[i])))
		swapchain.viewHandles = append(swapchain.viewHandles, metadata.ImageViewHandle(context.imageViews.Acquire(view)))
	}

	core.LogInfo("Swapchain created: %d images, %dx%d, present mode %d.", swapchain.imageCount, swapchain.extent.Width, swapchain.extent.Height, mode)
	return swapchain, nil
}

// CreateFramebuffers creates one framebuffer per image for renderpass.
func (vs *VulkanSwapchain) CreateFramebuffers(renderpass *VulkanRenderpass) error {
	for i := 0; i < int(vs.imageCount); i++ {
		fb, err := FramebufferCreate(vs.context, renderpass, vs.extent.Width, vs.extent.Height, []vk.ImageView{vs.Views[i]})
		if err != nil {
			return err
		}
		vs.Framebuffers = append(vs.Framebuffers, fb)
		vs.fbHandles = append(vs.fbHandles, metadata.FramebufferHandle(vs.context.framebuffers.Acquire(fb)))
	}
	return nil
}

func (vs *VulkanSwapchain) ImageCount() uint32 {
	return uint32(len(vs.imageHandles))
}

func (vs *VulkanSwapchain) Extent() metadata.Extent2D {
	return metadata.Extent2D{Width: vs.extent.Width, Height: vs.extent.Height}
}

func (vs *VulkanSwapchain) Image(index uint32) metadata.ImageHandle {
	return vs.imageHandles[index]
}

func (vs *VulkanSwapchain) ImageView(index uint32) metadata.ImageViewHandle {
	return vs.viewHandles[index]
}

func (vs *VulkanSwapchain) Framebuffer(index uint32) metadata.FramebufferHandle {
	return vs.fbHandles[index]
}

// AcquireNextImage reports an out of date or suboptimal surface with the
// matching core error. The swapchain is never recreated.
func (vs *VulkanSwapchain) AcquireNextImage(signal metadata.SemaphoreHandle) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(vs.context.Device.LogicalDevice, vs.Handle, math.MaxUint64, vs.context.semaphore(signal), vk.NullFence, &imageIndex)

	switch result {
	case vk.Success:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		return 0, core.ErrSwapchainOutOfDate
	case vk.Suboptimal:
		return imageIndex, core.ErrSwapchainSuboptimal
	default:
		return 0, vulkanError("vkAcquireNextImageKHR", result)
	}
}

func (vs *VulkanSwapchain) Present(imageIndex uint32, wait metadata.SemaphoreHandle) error {
	// Return the image to the swapchain for presentation.
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{vs.context.semaphore(wait)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
		PResults:           nil,
	}

	var result vk.Result
	_ = vs.context.locks.SafeQueueCall(uint32(vs.context.Device.PresentQueueIndex), func() error {
		result = vk.QueuePresent(vs.context.Device.PresentQueue, &presentInfo)
		return nil
	})

	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate:
		return core.ErrSwapchainOutOfDate
	case vk.Suboptimal:
		return core.ErrSwapchainSuboptimal
	default:
		return vulkanError("vkQueuePresentKHR", result)
	}
}

func (vs *VulkanSwapchain) SwapchainDestroy() {
	vs.destroySwapchain()
}

func (vs *VulkanSwapchain) destroySwapchain() {
	context := vs.context
	for i, fb := range vs.Framebuffers {
		if _, err := context.framebuffers.Release(uint64(vs.fbHandles[i])); err != nil {
			core.LogWarn("release framebuffer: %s", err)
		}
		fb.Destroy(context)
	}
	vs.Framebuffers = nil
	vs.fbHandles = nil

	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for i, view := range vs.Views {
		if _, err := context.imageViews.Release(uint64(vs.viewHandles[i])); err != nil {
			core.LogWarn("release image view: %s", err)
		}
		if _, err := context.images.Release(uint64(vs.imageHandles[i])); err != nil {
			core.LogWarn("release image: %s", err)
		}
		vk.DestroyImageView(context.Device.LogicalDevice, view, context.Allocator)
	}
	vs.Views = nil
	vs.viewHandles = nil
	vs.imageHandles = nil

	if vs.Handle != nil {
		vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = nil
	}
}
