package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	got, err := Generate("usr")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "usr-"))
	// prefix + "-" + 21-char nanoid
	assert.Len(t, got, len("usr-")+21)
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		got, err := Generate("led")
		require.NoError(t, err)
		assert.False(t, seen[got], "duplicate ID generated: %s", got)
		seen[got] = true
	}
}

func TestMustGenerate(t *testing.T) {
	got := MustGenerate("sess")
	assert.True(t, strings.HasPrefix(got, "sess-"))
}
