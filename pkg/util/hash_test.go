package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSHA256HashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	hash, err := SHA256HashFile(path)
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hash)
}

func TestSHA256HashFileMissing(t *testing.T) {
	_, err := SHA256HashFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
