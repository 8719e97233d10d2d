package forge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCUDA(t *testing.T) {
	t.Setenv("CUDA_PATH", "")
	_, ok := detectCUDA()
	assert.False(t, ok)

	root := t.TempDir()
	t.Setenv("CUDA_PATH", root)
	_, ok = detectCUDA()
	assert.False(t, ok, "a toolkit without nvcc is not usable")

	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "nvcc.exe"), nil, 0o755))

	path, ok := detectCUDA()
	assert.True(t, ok)
	assert.Equal(t, root, path)
}

func TestSanitizeCudartNoopWithoutArchive(t *testing.T) {
	layout, err := newLayout(t.TempDir())
	require.NoError(t, err)
	fake := &fakeRunner{}
	require.NoError(t, sanitizeCudart(fake, layout, nil))
	assert.Empty(t, fake.calls)
}
