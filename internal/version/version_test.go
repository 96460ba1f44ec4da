package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	require.NotEmpty(t, Version)
}

func TestCompatibilityHash_UsesCommitWhenSet(t *testing.T) {
	prev := GitCommit
	t.Cleanup(func() { GitCommit = prev })

	GitCommit = "a1b2c3d4"
	require.Equal(t, "a1b2c3d4", CompatibilityHash())
}

func TestCompatibilityHash_DeveloperBuildIsStable(t *testing.T) {
	prev := GitCommit
	t.Cleanup(func() { GitCommit = prev })

	GitCommit = "<developer build>"
	first := CompatibilityHash()
	second := CompatibilityHash()
	require.Equal(t, first, second)
	require.Len(t, first, 16)
	require.False(t, strings.HasPrefix(first, "<"))
}
