package raytracing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, fd *fakeDevice, sc *fakeSwapchain) (*ResourceGraph, GraphOptions) {
	t.Helper()
	opts := GraphOptions{
		FramesInFlight: 2,
		Shaders:        writeShaderSet(t),
		Mesh:           TriangleMesh(),
		Overlay:        &fakeOverlay{},
	}
	g, err := NewResourceGraph(fd, sc, opts)
	require.NoError(t, err)
	return g, opts
}

func TestResourceGraphBuildOrder(t *testing.T) {
	fd := newFakeDevice()
	g, _ := newTestGraph(t, fd, newFakeSwapchain(fd, 3))

	assert.Equal(t, []string{
		"bottom-level acceleration structure",
		"top-level acceleration structure",
		"descriptor set layout",
		"shader stages",
		"pipeline",
		"shader binding table",
		"descriptor sets",
		"frame orchestrator",
	}, g.StepNames())

	// Shader modules do not outlive pipeline creation.
	assert.Zero(t, fd.live("shader"))
	assert.Equal(t, 1, fd.live("pipeline"))
	assert.Equal(t, uint32(2), g.Frames.FramesInFlight())
}

func TestResourceGraphDrawAndDestroy(t *testing.T) {
	fd := newFakeDevice()
	g, _ := newTestGraph(t, fd, newFakeSwapchain(fd, 3))

	for i := 0; i < 6; i++ {
		_, err := g.DrawFrame()
		require.NoError(t, err)
	}
	require.NoError(t, g.Destroy())

	assert.Empty(t, fd.objects, "every device object is released")
	assert.Empty(t, fd.badFrees)
	assert.Empty(t, g.StepNames())
}

func TestResourceGraphDestroyWaitsForIdleFirst(t *testing.T) {
	fd := newFakeDevice()
	g, _ := newTestGraph(t, fd, newFakeSwapchain(fd, 2))
	_, err := g.DrawFrame()
	require.NoError(t, err)

	fd.log = nil
	require.NoError(t, g.Destroy())
	require.NotEmpty(t, fd.log)
	assert.Equal(t, "WaitIdle", fd.log[0])
}

func TestResourceGraphDefaultsFramesInFlight(t *testing.T) {
	fd := newFakeDevice()
	g, err := NewResourceGraph(fd, newFakeSwapchain(fd, 3), GraphOptions{
		Shaders: writeShaderSet(t),
		Mesh:    TriangleMesh(),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultFramesInFlight, g.Frames.FramesInFlight())
}

func TestResourceGraphRollsBackOnFailure(t *testing.T) {
	fd := newFakeDevice()
	paths := writeShaderSet(t)
	require.NoError(t, os.Remove(paths.ClosestHit))

	_, err := NewResourceGraph(fd, newFakeSwapchain(fd, 3), GraphOptions{
		Shaders: paths,
		Mesh:    TriangleMesh(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "shader stages")
	assert.Empty(t, fd.objects)
	assert.Empty(t, fd.badFrees)
}

func TestResourceGraphRejectsEmptyMesh(t *testing.T) {
	fd := newFakeDevice()
	_, err := NewResourceGraph(fd, newFakeSwapchain(fd, 3), GraphOptions{Shaders: writeShaderSet(t)})
	assert.ErrorIs(t, err, core.ErrEmptyGeometry)
	assert.Empty(t, fd.objects)
}

func TestResourceGraphReloadPipeline(t *testing.T) {
	fd := newFakeDevice()
	g, _ := newTestGraph(t, fd, newFakeSwapchain(fd, 3))
	_, err := g.DrawFrame()
	require.NoError(t, err)

	oldPipeline := g.Pipeline.Handle
	require.NoError(t, g.ReloadPipeline())
	assert.NotEqual(t, oldPipeline, g.Pipeline.Handle)
	assert.Equal(t, 1, fd.live("pipeline"))
	assert.Zero(t, fd.live("shader"))

	_, err = g.DrawFrame()
	require.NoError(t, err)
	cmd := fd.submits[len(fd.submits)-1].CommandBuffer.(*fakeCommandBuffer)
	assert.Equal(t, g.Pipeline.Handle, cmd.pipelines[0])
	assert.Equal(t, g.SBT.RayGen, cmd.traces[0].RayGen)

	require.NoError(t, g.Destroy())
	assert.Empty(t, fd.objects)
	assert.Empty(t, fd.badFrees)
}

func TestResourceGraphReloadFailureKeepsPipeline(t *testing.T) {
	fd := newFakeDevice()
	g, opts := newTestGraph(t, fd, newFakeSwapchain(fd, 3))
	pipeline, sbt := g.Pipeline, g.SBT

	require.NoError(t, os.WriteFile(opts.Shaders.Miss, []byte{1, 2, 3}, 0o644))
	assert.ErrorIs(t, g.ReloadPipeline(), core.ErrInvalidShaderBinary)
	assert.Same(t, pipeline, g.Pipeline)
	assert.Same(t, sbt, g.SBT)
	assert.Zero(t, fd.live("shader"))

	writeSPIRV(t, filepath.Dir(opts.Shaders.Miss), "miss.rmiss.spv")
	fd.failures["RayTracingShaderGroupHandles"] = assert.AnError
	assert.ErrorIs(t, g.ReloadPipeline(), assert.AnError)
	assert.Same(t, pipeline, g.Pipeline)
	assert.Equal(t, 1, fd.live("pipeline"))

	_, err := g.DrawFrame()
	require.NoError(t, err)
}
