//go:build mage

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlslcPath(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	assert.Equal(t, "glslc", glslcPath(env(nil)))
	assert.Equal(t, filepath.Join("/opt/vulkan", "bin", "glslc"), glslcPath(env(map[string]string{"VULKAN_SDK": "/opt/vulkan"})))
	assert.Equal(t, "/usr/local/bin/glslc", glslcPath(env(map[string]string{
		"GLSLC":      "/usr/local/bin/glslc",
		"VULKAN_SDK": "/opt/vulkan",
	})))
}

func TestGlslcArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"--target-env=vulkan1.2", "-O", "raygen.rgen", "-o", "raygen.rgen.spv"},
		glslcArgs("raygen.rgen", "raygen.rgen.spv", false))
	assert.Equal(t,
		[]string{"--target-env=vulkan1.2", "-g", "-O0", "miss.rmiss", "-o", "miss.rmiss.spv"},
		glslcArgs("miss.rmiss", "miss.rmiss.spv", true))
}

func TestCmdOptions(t *testing.T) {
	opts := &cmdOptions{}
	for _, o := range []cmdOption{withArgs("a", "b"), withEnv("X=1"), withEnv("Y=2"), withStream()} {
		o(opts)
	}
	assert.Equal(t, []string{"a", "b"}, opts.args)
	assert.Equal(t, []string{"X=1", "Y=2"}, opts.env)
	assert.True(t, opts.stream)
}
