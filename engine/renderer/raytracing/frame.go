package raytracing

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
)

const (
	DefaultFramesInFlight uint32 = 2
	MaxFramesInFlight     uint32 = 3
)

// FrameSync is the set of objects owned by one frame slot.
type FrameSync struct {
	ImageAvailable metadata.SemaphoreHandle
	RenderFinished metadata.SemaphoreHandle
	// Created signaled so the first wait on every slot returns immediately.
	InFlight      metadata.FenceHandle
	CommandPool   metadata.CommandPoolHandle
	CommandBuffer CommandBuffer
}

type FrameResult struct {
	// Number counts every frame, skipped ones included.
	Number     uint64
	Slot       uint32
	ImageIndex uint32
	Skipped    bool
}

// FrameOrchestrator records, submits and presents one ray-traced frame per
// DrawFrame call, cycling through its frame slots. It borrows the pipeline,
// shader binding table and descriptor sets; it owns only the slot objects.
type FrameOrchestrator struct {
	device    Device
	swapchain Swapchain
	overlay   Overlay

	pipeline    *Pipeline
	sbt         *ShaderBindingTable
	descriptors *DescriptorSets

	frames []*FrameSync
	// Fence of the slot that last rendered to each swapchain image.
	imagesInFlight []metadata.FenceHandle
	// Whether each image has been rendered before and so sits in the present layout.
	imagesPresented []bool

	currentFrame uint32
	frameNumber  uint64
}

func NewFrameOrchestrator(device Device, swapchain Swapchain, framesInFlight uint32, pipeline *Pipeline, sbt *ShaderBindingTable, descriptors *DescriptorSets, overlay Overlay) (*FrameOrchestrator, error) {
	if framesInFlight < 1 || framesInFlight > MaxFramesInFlight {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidFramesInFlight, framesInFlight)
	}
	if uint32(len(descriptors.Sets)) != swapchain.ImageCount() {
		return nil, fmt.Errorf("descriptor set count %d does not match swapchain image count %d", len(descriptors.Sets), swapchain.ImageCount())
	}

	fo := &FrameOrchestrator{
		device:          device,
		swapchain:       swapchain,
		overlay:         overlay,
		pipeline:        pipeline,
		sbt:             sbt,
		descriptors:     descriptors,
		frames:          make([]*FrameSync, 0, framesInFlight),
		imagesInFlight:  make([]metadata.FenceHandle, swapchain.ImageCount()),
		imagesPresented: make([]bool, swapchain.ImageCount()),
	}

	for i := uint32(0); i < framesInFlight; i++ {
		frame, err := fo.createFrameSync()
		if err != nil {
			fo.Destroy()
			return nil, fmt.Errorf("failed to create sync objects for frame %d: %w", i, err)
		}
		fo.frames = append(fo.frames, frame)
	}

	core.LogInfo("frame orchestrator ready: %d frames in flight, %d swapchain images", framesInFlight, swapchain.ImageCount())
	return fo, nil
}

func (fo *FrameOrchestrator) createFrameSync() (*FrameSync, error) {
	frame := &FrameSync{}
	var err error
	if frame.ImageAvailable, err = fo.device.CreateSemaphore(); err != nil {
		return nil, err
	}
	if frame.RenderFinished, err = fo.device.CreateSemaphore(); err != nil {
		fo.destroyFrameSync(frame)
		return nil, err
	}
	if frame.InFlight, err = fo.device.CreateFence(true); err != nil {
		fo.destroyFrameSync(frame)
		return nil, err
	}
	if frame.CommandPool, err = fo.device.CreateCommandPool(); err != nil {
		fo.destroyFrameSync(frame)
		return nil, err
	}
	if frame.CommandBuffer, err = fo.device.AllocateCommandBuffer(frame.CommandPool); err != nil {
		fo.destroyFrameSync(frame)
		return nil, err
	}
	return frame, nil
}

func (fo *FrameOrchestrator) destroyFrameSync(frame *FrameSync) {
	// Command buffers go away with their pool.
	if frame.CommandPool != 0 {
		fo.device.DestroyCommandPool(frame.CommandPool)
	}
	if frame.InFlight != 0 {
		fo.device.DestroyFence(frame.InFlight)
	}
	if frame.RenderFinished != 0 {
		fo.device.DestroySemaphore(frame.RenderFinished)
	}
	if frame.ImageAvailable != 0 {
		fo.device.DestroySemaphore(frame.ImageAvailable)
	}
}

// Rebind swaps in a rebuilt pipeline and shader binding table. The device
// must be idle.
func (fo *FrameOrchestrator) Rebind(pipeline *Pipeline, sbt *ShaderBindingTable) {
	fo.pipeline = pipeline
	fo.sbt = sbt
}

func (fo *FrameOrchestrator) FramesInFlight() uint32 {
	return uint32(len(fo.frames))
}

func (fo *FrameOrchestrator) CurrentFrame() uint32 {
	return fo.currentFrame
}

// DrawFrame runs one frame on the current slot. A surface that no longer
// matches the swapchain skips the frame without recording anything; the
// slot still advances.
func (fo *FrameOrchestrator) DrawFrame() (FrameResult, error) {
	slot := fo.currentFrame
	frame := fo.frames[slot]
	result := FrameResult{
		Number: fo.frameNumber,
		Slot:   slot,
	}
	defer fo.advance()

	// Wait for the previous use of this slot to complete.
	if err := fo.device.WaitForFence(frame.InFlight, gomath.MaxUint64); err != nil {
		return result, fmt.Errorf("in-flight fence wait failure on frame %d: %w", slot, err)
	}

	imageIndex, err := fo.swapchain.AcquireNextImage(frame.ImageAvailable)
	if err != nil {
		if isSurfaceChange(err) {
			// A suboptimal acquire still hands out an image and signals ImageAvailable; both are dropped while the swapchain is not recreated.
			core.LogDebug("frame %d skipped on acquire: %s", fo.frameNumber, err)
			result.Skipped = true
			return result, nil
		}
		return result, fmt.Errorf("failed to acquire swapchain image: %w", err)
	}
	result.ImageIndex = imageIndex

	// Make sure the previous frame is not using this image.
	if guard := fo.imagesInFlight[imageIndex]; guard != 0 && guard != frame.InFlight {
		if err := fo.device.WaitForFence(guard, gomath.MaxUint64); err != nil {
			return result, fmt.Errorf("image %d fence wait failure: %w", imageIndex, err)
		}
	}
	fo.imagesInFlight[imageIndex] = frame.InFlight

	if err := fo.device.ResetFence(frame.InFlight); err != nil {
		return result, fmt.Errorf("failed to reset fence of frame %d: %w", slot, err)
	}
	if err := fo.device.ResetCommandPool(frame.CommandPool); err != nil {
		return result, fmt.Errorf("failed to reset command pool of frame %d: %w", slot, err)
	}

	if err := fo.record(frame.CommandBuffer, imageIndex); err != nil {
		return result, fmt.Errorf("failed to record frame %d: %w", slot, err)
	}

	err = fo.device.Submit(SubmitInfo{
		CommandBuffer: frame.CommandBuffer,
		Wait:          frame.ImageAvailable,
		WaitStage:     metadata.PipelineStageColorAttachmentOutput,
		Signal:        frame.RenderFinished,
		Fence:         frame.InFlight,
	})
	if err != nil {
		return result, fmt.Errorf("failed to submit frame %d: %w", slot, err)
	}
	// The render pass leaves the image in the present layout.
	fo.imagesPresented[imageIndex] = true

	if err := fo.swapchain.Present(imageIndex, frame.RenderFinished); err != nil {
		if !isSurfaceChange(err) {
			return result, fmt.Errorf("failed to present image %d: %w", imageIndex, err)
		}
		core.LogDebug("present of frame %d reported %s", fo.frameNumber, err)
	}
	return result, nil
}

func (fo *FrameOrchestrator) advance() {
	fo.currentFrame = (fo.currentFrame + 1) % uint32(len(fo.frames))
	fo.frameNumber++
}

func (fo *FrameOrchestrator) record(cmd CommandBuffer, imageIndex uint32) error {
	if err := cmd.Begin(true); err != nil {
		return err
	}

	extent := fo.swapchain.Extent()
	image := fo.swapchain.Image(imageIndex)

	oldLayout := metadata.ImageLayoutUndefined
	if fo.imagesPresented[imageIndex] {
		oldLayout = metadata.ImageLayoutPresentSrc
	}
	// The source stage matches the stage the acquire semaphore is waited at.
	cmd.PipelineBarrier(metadata.ImageBarrier{
		Image:     image,
		OldLayout: oldLayout,
		NewLayout: metadata.ImageLayoutGeneral,
		SrcAccess: 0,
		DstAccess: metadata.AccessShaderWrite,
		SrcStage:  metadata.PipelineStageColorAttachmentOutput,
		DstStage:  metadata.PipelineStageRayTracingShader,
	})

	cmd.BindRayTracingPipeline(fo.pipeline.Handle)
	cmd.BindRayTracingDescriptorSet(fo.pipeline.Layout, fo.descriptors.ForImage(imageIndex))
	cmd.TraceRays(fo.sbt.RayGen, fo.sbt.Miss, fo.sbt.Hit, fo.sbt.Callable, extent.Width, extent.Height, 1)

	cmd.PipelineBarrier(metadata.ImageBarrier{
		Image:     image,
		OldLayout: metadata.ImageLayoutGeneral,
		NewLayout: metadata.ImageLayoutColorAttachmentOptimal,
		SrcAccess: metadata.AccessShaderWrite,
		DstAccess: metadata.AccessColorAttachmentRead | metadata.AccessColorAttachmentWrite,
		SrcStage:  metadata.PipelineStageRayTracingShader,
		DstStage:  metadata.PipelineStageColorAttachmentOutput,
	})

	cmd.BeginRenderPass(fo.swapchain.Framebuffer(imageIndex), extent)
	if fo.overlay != nil {
		fo.overlay.Record(cmd, extent)
	}
	cmd.EndRenderPass()

	return cmd.End()
}

// Destroy releases the slot objects. The device must be idle.
func (fo *FrameOrchestrator) Destroy() {
	for _, frame := range fo.frames {
		fo.destroyFrameSync(frame)
	}
	fo.frames = nil
	fo.imagesInFlight = nil
}

func isSurfaceChange(err error) bool {
	return errors.Is(err, core.ErrSwapchainOutOfDate) || errors.Is(err, core.ErrSwapchainSuboptimal)
}
