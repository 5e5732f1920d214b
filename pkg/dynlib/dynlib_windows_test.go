//go:build windows

package dynlib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrependSearchPath_Path(t *testing.T) {
	require.True(t, RuntimeSearchPath())

	dir := t.TempDir()
	other := t.TempDir()
	t.Setenv("PATH", other)

	variable, err := PrependSearchPath(dir)
	require.NoError(t, err)
	assert.Equal(t, "PATH", variable)

	_, err = PrependSearchPath(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Clean(dir), other}, filepath.SplitList(os.Getenv("PATH")))
}
