package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny("record limit exceeded", "too large", "limit"))
	assert.False(t, HasAny("device offline", "too large", "limit"))
	assert.False(t, HasAny("anything"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a, b,,c ,"))
	assert.Nil(t, SplitList(""))
}
