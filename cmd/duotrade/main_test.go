package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunIntervalFlagIsPlainSeconds(t *testing.T) {
	t.Cleanup(func() { intervalSec = 0 })

	cmd := buildRunCmd()
	require.NoError(t, cmd.Flags().Set("interval", "30"))
	require.Equal(t, 30, intervalSec)

	// Duration strings are not part of the surface.
	require.Error(t, cmd.Flags().Set("interval", "30s"))
}
