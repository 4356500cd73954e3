package slices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionToMaxLen(t *testing.T) {
	tests := map[string]struct {
		s        []int
		maxLen   int
		expected [][]int
	}{
		"empty":        {s: []int{}, maxLen: 2, expected: [][]int{{}}},
		"exact":        {s: []int{1, 2, 3, 4}, maxLen: 2, expected: [][]int{{1, 2}, {3, 4}}},
		"remainder":    {s: []int{1, 2, 3, 4, 5}, maxLen: 2, expected: [][]int{{1, 2}, {3, 4}, {5}}},
		"single":       {s: []int{1, 2, 3}, maxLen: 10, expected: [][]int{{1, 2, 3}}},
		"even spread":  {s: []int{1, 2, 3, 4, 5}, maxLen: 4, expected: [][]int{{1, 2, 3}, {4, 5}}},
		"one per part": {s: []int{1, 2, 3}, maxLen: 1, expected: [][]int{{1}, {2}, {3}}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, PartitionToMaxLen(tc.s, tc.maxLen))
		})
	}
}

func TestPartitionToMaxLen_PanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { PartitionToMaxLen([]int{1}, 0) })
}

func TestPartitionToMaxLen_DoesNotAlias(t *testing.T) {
	s := []int{1, 2, 3, 4}
	parts := PartitionToMaxLen(s, 2)
	parts[0][0] = 100
	assert.Equal(t, 1, s[0])
}

func TestRemoveFunc(t *testing.T) {
	s := []string{"a", "b", "a", "c"}

	assert.Equal(t, []string{"b", "c"}, RemoveFunc(s, func(e string) bool { return e == "a" }))
	assert.Equal(t, []string{"a", "b", "a", "c"}, s)
	assert.Equal(t, []string{}, RemoveFunc([]string(nil), func(string) bool { return true }))
}
