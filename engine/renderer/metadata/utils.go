package metadata

import "golang.org/x/exp/constraints"

// GetAligned rounds operand up to the next multiple of granularity, which
// must be a power of two.
func GetAligned[T constraints.Unsigned](operand, granularity T) T {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
