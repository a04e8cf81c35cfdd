package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusFireStopsWhenHandled(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	first := "first"
	second := "second"
	assert.True(t, bus.Register(EVENT_CODE_KEY_PRESSED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return data.Data.U16[0] == 1
	}))
	assert.True(t, bus.Register(EVENT_CODE_KEY_PRESSED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_KEY_PRESSED, first, nil))

	ctx := EventContext{}
	ctx.Data.U16[0] = 1
	assert.True(t, bus.Fire(EVENT_CODE_KEY_PRESSED, nil, ctx))
	assert.Equal(t, []string{"first"}, calls)

	calls = nil
	assert.True(t, bus.Fire(EVENT_CODE_KEY_PRESSED, nil, EventContext{}))
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.True(t, bus.Unregister(EVENT_CODE_KEY_PRESSED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_KEY_PRESSED, first))
	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}
