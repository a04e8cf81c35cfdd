package overlay

import (
	"testing"

	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	frameMS float64
	skipped uint64
}

func (s *fakeStats) FrameTime() float64 { return s.frameMS }
func (s *fakeStats) FPS() float64       { return 1000 / s.frameMS }
func (s *fakeStats) Skipped() uint64    { return s.skipped }

// recordingCommandBuffer keeps the ClearRect calls and ignores everything else.
type recordingCommandBuffer struct {
	raytracing.CommandBuffer
	rects  []metadata.Rect2D
	colors [][4]float32
}

func (c *recordingCommandBuffer) ClearRect(rect metadata.Rect2D, color [4]float32) {
	c.rects = append(c.rects, rect)
	c.colors = append(c.colors, color)
}

var extent = metadata.Extent2D{Width: 800, Height: 600}

func TestRecordDrawsPanelAndBar(t *testing.T) {
	stats := &fakeStats{frameMS: 20}
	cmd := &recordingCommandBuffer{}

	New(stats).Record(cmd, extent)

	require.Len(t, cmd.rects, 2)
	assert.Equal(t, metadata.Rect2D{X: margin, Y: margin, Width: panelWidth, Height: panelHeight}, cmd.rects[0])
	assert.Equal(t, panelColor, cmd.colors[0])
	assert.InDelta(t, 120, float64(cmd.rects[1].Width), 1)
	assert.Equal(t, slowColor, cmd.colors[1])
}

func TestBarIsClampedToBudget(t *testing.T) {
	stats := &fakeStats{frameMS: 10 * budgetMS}
	cmd := &recordingCommandBuffer{}

	New(stats).Record(cmd, extent)

	require.Len(t, cmd.rects, 2)
	assert.Equal(t, uint32(barWidth), cmd.rects[1].Width)
	assert.Equal(t, tooSlowColor, cmd.colors[1])
}

func TestNoBarBeforeFirstAverage(t *testing.T) {
	cmd := &recordingCommandBuffer{}
	New(core.NewMetrics()).Record(cmd, extent)
	assert.Len(t, cmd.rects, 1)
}

func TestSkipMarkerFadesOut(t *testing.T) {
	stats := &fakeStats{frameMS: 1}
	overlay := New(stats)

	stats.skipped = 1
	cmd := &recordingCommandBuffer{}
	overlay.Record(cmd, extent)
	require.Len(t, cmd.rects, 3)
	assert.Equal(t, skipColor, cmd.colors[2])
	assert.Equal(t, goodColor, cmd.colors[1])

	for i := 1; i < skipMarkerFrames; i++ {
		overlay.Record(&recordingCommandBuffer{}, extent)
	}
	cmd = &recordingCommandBuffer{}
	overlay.Record(cmd, extent)
	assert.Len(t, cmd.rects, 2)
}

func TestTinyExtentDrawsNothing(t *testing.T) {
	cmd := &recordingCommandBuffer{}
	New(&fakeStats{frameMS: 5}).Record(cmd, metadata.Extent2D{Width: 100, Height: 20})
	assert.Empty(t, cmd.rects)
}
