package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.True(t, prev < next, "ids must sort in creation order: %s vs %s", prev, next)
		prev = next
	}
}

func TestNewLength(t *testing.T) {
	t.Parallel()
	assert.Len(t, New(), 26)
}
