package vulkan

import vk "github.com/goki/vulkan"

/**
 * @brief Device extensions a physical device must expose to be selected.
 */
var VULKAN_REQUIRED_DEVICE_EXTENSIONS = []string{
	"VK_KHR_swapchain",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_acceleration_structure",
	"VK_KHR_deferred_host_operations",
	"VK_KHR_buffer_device_address",
}

/** @brief Buffer device addresses and acceleration structures need 1.2. */
var VULKAN_API_VERSION = uint32(vk.MakeVersion(1, 2, 0))

/** @brief The Khronos validation layer, enabled through configuration. */
const VULKAN_VALIDATION_LAYER = "VK_LAYER_KHRONOS_validation"

/** @brief Entry point of every ray-tracing shader stage. */
const VULKAN_SHADER_ENTRY_POINT = "main"

/** @brief Preferred swapchain format. It must support storage image usage. */
const VULKAN_SWAPCHAIN_FORMAT = vk.FormatB8g8r8a8Unorm
