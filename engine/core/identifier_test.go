package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableReusesReleasedSlots(t *testing.T) {
	ht := NewHandleTable[string]()

	a := ht.Acquire("a")
	b := ht.Acquire("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, ht.Len())

	v, err := ht.Release(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, ok := ht.Get(a)
	assert.False(t, ok)

	c := ht.Acquire("c")
	assert.Equal(t, a, c)
	assert.Equal(t, "c", ht.MustGet(c))
	assert.Equal(t, "b", ht.MustGet(b))
}

func TestHandleTableRejectsInvalidHandles(t *testing.T) {
	ht := NewHandleTable[int]()
	_, ok := ht.Get(0)
	assert.False(t, ok)

	_, err := ht.Release(7)
	assert.Error(t, err)

	h := ht.Acquire(1)
	_, err = ht.Release(h)
	require.NoError(t, err)
	_, err = ht.Release(h)
	assert.Error(t, err)

	assert.Panics(t, func() { ht.MustGet(h) })
}
