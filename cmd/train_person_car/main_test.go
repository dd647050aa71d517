package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeml/personcar/config"
)

func TestProfileWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.pgo")
	stop, err := profile(path)
	require.NoError(t, err)
	stop()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

// a failing run still stops the profiler before returning its exit code
func TestRunFlushesProfileOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.pgo")
	require.Equal(t, 1, run(config.Overrides{}, "", path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())

	stop, err := profile(filepath.Join(t.TempDir(), "again.pgo"))
	require.NoError(t, err, "profiler left running")
	stop()
}
