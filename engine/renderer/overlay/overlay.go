// Package overlay draws frame statistics on top of the ray-traced image.
package overlay

import (
	gmath "github.com/spaghettifunk/raytracer/engine/math"
	"github.com/spaghettifunk/raytracer/engine/renderer/metadata"
	"github.com/spaghettifunk/raytracer/engine/renderer/raytracing"
)

// Stats is what the overlay reads every frame. core.Metrics satisfies it.
type Stats interface {
	FrameTime() float64
	FPS() float64
	Skipped() uint64
}

const (
	// Frame time that fills the whole bar, in milliseconds.
	budgetMS = 1000.0 / 30.0
	targetMS = 1000.0 / 60.0

	margin   = 10
	padding  = 2
	barWidth = 200
	barHigh  = 8

	panelWidth  = barWidth + 2*padding
	panelHeight = barHigh + 2*padding

	// Number of recorded frames the skip marker stays visible.
	skipMarkerFrames = 60
)

var (
	panelColor   = [4]float32{0.05, 0.05, 0.05, 1}
	goodColor    = [4]float32{0.2, 0.8, 0.2, 1}
	slowColor    = [4]float32{0.9, 0.8, 0.1, 1}
	tooSlowColor = [4]float32{0.9, 0.2, 0.1, 1}
	skipColor    = [4]float32{0.9, 0.2, 0.9, 1}
)

// FrameStats renders a bar proportional to the average frame time, plus a
// marker while frames are being skipped.
type FrameStats struct {
	stats       Stats
	lastSkipped uint64
	markerLeft  int
}

var _ raytracing.Overlay = (*FrameStats)(nil)

func New(stats Stats) *FrameStats {
	return &FrameStats{stats: stats}
}

// Record is called inside the render pass of every presented frame.
func (f *FrameStats) Record(cmd raytracing.CommandBuffer, extent metadata.Extent2D) {
	for _, r := range f.layout(extent) {
		cmd.ClearRect(r.rect, r.color)
	}
}

type coloredRect struct {
	rect  metadata.Rect2D
	color [4]float32
}

func (f *FrameStats) layout(extent metadata.Extent2D) []coloredRect {
	if extent.Width < panelWidth+2*margin || extent.Height < 2*panelHeight+2*margin {
		return nil
	}

	rects := []coloredRect{{
		rect:  metadata.Rect2D{X: margin, Y: margin, Width: panelWidth, Height: panelHeight},
		color: panelColor,
	}}

	frameMS := f.stats.FrameTime()
	width := uint32(gmath.Clamp(frameMS/budgetMS, 0, 1) * barWidth)
	if width > 0 {
		rects = append(rects, coloredRect{
			rect:  metadata.Rect2D{X: margin + padding, Y: margin + padding, Width: width, Height: barHigh},
			color: barColor(frameMS),
		})
	}

	if skipped := f.stats.Skipped(); skipped != f.lastSkipped {
		f.lastSkipped = skipped
		f.markerLeft = skipMarkerFrames
	}
	if f.markerLeft > 0 {
		f.markerLeft--
		rects = append(rects, coloredRect{
			rect:  metadata.Rect2D{X: margin, Y: margin + panelHeight + padding, Width: panelHeight, Height: panelHeight},
			color: skipColor,
		})
	}
	return rects
}

func barColor(frameMS float64) [4]float32 {
	switch {
	case frameMS <= targetMS:
		return goodColor
	case frameMS <= budgetMS:
		return slowColor
	default:
		return tooSlowColor
	}
}
