package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAverageAndFPS(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	// A second full window must not accumulate on top of the first.
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.020)
	}
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)

	m = NewMetrics()
	for i := 0; i < 101; i++ {
		m.Update(0.010)
	}
	assert.Equal(t, 100.0, m.FPS())
}

func TestMetricsSkipped(t *testing.T) {
	m := NewMetrics()
	m.FrameSkipped()
	m.FrameSkipped()
	assert.Equal(t, uint64(2), m.Skipped())
}

func TestClockElapsed(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = base.Add(1500 * time.Millisecond)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = base.Add(3 * time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}
