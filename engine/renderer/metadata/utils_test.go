package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAligned(t *testing.T) {
	tests := []struct {
		operand, granularity, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{32, 32, 32},
		{33, 32, 64},
		{100, 1, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GetAligned(tt.operand, tt.granularity), "GetAligned(%d, %d)", tt.operand, tt.granularity)
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.False(t, IsPowerOfTwo(uint32(0)))
	assert.True(t, IsPowerOfTwo(uint32(1)))
	assert.True(t, IsPowerOfTwo(uint32(64)))
	assert.False(t, IsPowerOfTwo(uint32(48)))
}
