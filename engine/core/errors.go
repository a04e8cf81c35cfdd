package core

import (
	"errors"
)

var (
	// The presentation surface no longer matches the swapchain.
	ErrSwapchainOutOfDate  = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal = errors.New("swapchain suboptimal")

	ErrInvalidBufferSize    = errors.New("buffer size must be greater than zero")
	ErrInitialDataSize      = errors.New("initial data length does not match buffer size")
	ErrBufferNotHostVisible = errors.New("buffer memory is not host visible")
	ErrBufferAlreadyMapped  = errors.New("buffer memory is already mapped")
	ErrNoDeviceAddress      = errors.New("buffer was not created with device address usage")
	ErrNoSuitableMemoryType = errors.New("no suitable memory type")

	ErrEmptyGeometry                = errors.New("geometry has no primitives")
	ErrAccelerationStructureInUse   = errors.New("acceleration structure is still referenced by a top-level structure")
	ErrInvalidAccelerationStructure = errors.New("invalid acceleration structure")

	ErrInvalidShaderGroup  = errors.New("invalid shader group")
	ErrInvalidShaderBinary = errors.New("invalid shader binary")
	ErrInvalidAlignment    = errors.New("alignment must be a non-zero power of two")
	ErrShaderHandleSize    = errors.New("shader group handle data has unexpected size")

	// A required Vulkan function could not be resolved from the loader.
	ErrMissingEntryPoint = errors.New("vulkan entry point not available")

	ErrInvalidFramesInFlight = errors.New("frames in flight must be between 1 and 3")
	ErrInvalidConfig         = errors.New("invalid configuration")

	ErrUnknown = errors.New("unknown")
)
