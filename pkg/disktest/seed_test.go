package disktest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenSeedString(t *testing.T) {
	t.Parallel()

	seed, err := GenSeedString(42)
	require.NoError(t, err)
	assert.Len(t, seed, 42)

	for _, r := range seed {
		assert.True(t, strings.ContainsRune(seedAlphabet, r), "unexpected seed character %q", r)
	}

	// Vanishingly unlikely to collide.
	other, err := GenSeedString(42)
	require.NoError(t, err)
	assert.NotEqual(t, seed, other)
}
