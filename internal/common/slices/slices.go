package slices

import (
	"fmt"

	goslices "golang.org/x/exp/slices"
)

// PartitionToMaxLen splits s into the fewest batches holding at most maxLen elements each. Batch sizes differ by at
// most one and ordering is preserved. An empty s yields a single empty batch. Batches never alias s.
func PartitionToMaxLen[S ~[]E, E any](s S, maxLen int) []S {
	if maxLen < 1 {
		panic(fmt.Sprintf("maxLen is %d but must be at least 1", maxLen))
	}
	batches := (len(s) + maxLen - 1) / maxLen
	if batches == 0 {
		return []S{goslices.Clone(s[:0])}
	}
	size, larger := len(s)/batches, len(s)%batches
	rv := make([]S, 0, batches)
	for i := 0; i < batches; i++ {
		n := size
		if i < larger {
			n++
		}
		rv = append(rv, goslices.Clone(s[:n]))
		s = s[n:]
	}
	return rv
}

// RemoveFunc returns a copy of s without the elements for which f returns true.
func RemoveFunc[S ~[]E, E any](s S, f func(E) bool) S {
	rv := make(S, 0, len(s))
	for _, e := range s {
		if !f(e) {
			rv = append(rv, e)
		}
	}
	return rv
}
