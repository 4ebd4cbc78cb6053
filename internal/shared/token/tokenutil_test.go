package tokenutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	require.Zero(t, CountTokens(""))

	got := CountTokens("hello world")
	require.Positive(t, got)
	if encoding != nil {
		// Two tokens under cl100k_base.
		require.Equal(t, 2, got)
	}
}

func TestEstimateFast(t *testing.T) {
	t.Parallel()

	require.Zero(t, EstimateFast(""))
	require.Zero(t, EstimateFast("   \n\t  "))

	// Four words beat the seven-runes-over-four estimate.
	require.Equal(t, 4, EstimateFast("a b c d"))
	require.Equal(t, 1, EstimateFast("hi"))
}

func TestTruncateToTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", TruncateToTokens("short", 100))
	require.Equal(t, "anything", TruncateToTokens("anything", 0))

	long := strings.Repeat("hello world ", 100)
	got := TruncateToTokens(long, 5)
	require.NotEqual(t, long, got)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Less(t, len(got), len(long))
}
