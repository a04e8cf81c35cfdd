package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/raytracer/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestKeyEvent(t *testing.T) {
	tests := []struct {
		name   string
		key    glfw.Key
		action glfw.Action
		code   core.SystemEventCode
		fired  bool
	}{
		{"escape quits", glfw.KeyEscape, glfw.Press, core.EVENT_CODE_APPLICATION_QUIT, true},
		{"f5 reloads shaders", glfw.KeyF5, glfw.Press, core.EVENT_CODE_SHADERS_CHANGED, true},
		{"other key", glfw.KeyA, glfw.Press, core.EVENT_CODE_KEY_PRESSED, true},
		{"release ignored", glfw.KeyEscape, glfw.Release, 0, false},
		{"repeat ignored", glfw.KeyA, glfw.Repeat, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, fired := keyEvent(tt.key, tt.action)
			assert.Equal(t, tt.fired, fired)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestKeyCallbackFiresOnBus(t *testing.T) {
	bus := core.NewEventBus()
	p := New(bus)

	var got uint16
	bus.Register(core.EVENT_CODE_KEY_PRESSED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		got = data.Data.U16[0]
		assert.Same(t, p, sender)
		return true
	})

	p.keyCallback(nil, glfw.KeyB, 0, glfw.Press, 0)
	assert.Equal(t, uint16(glfw.KeyB), got)
}
