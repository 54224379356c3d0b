package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := From([]string{"b", "a", "b"})

	assert.Len(t, s, 2)
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))

	s.Add("c")
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))

	s.Remove("a")
	assert.False(t, s.Contains("a"))
}
