package pathsanitizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWithin_DirectChild(t *testing.T) {
	base := t.TempDir()
	candidate := filepath.Join(base, "t1", "ab", "cd", "deadbeef")

	ok, err := IsWithin(base, candidate)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsWithin_BaseItself(t *testing.T) {
	base := t.TempDir()

	ok, err := IsWithin(base, base)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsWithin_EscapesViaDotDot(t *testing.T) {
	base := t.TempDir()
	candidate := filepath.Join(base, "..", "escaped")

	ok, err := IsWithin(base, candidate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsWithin_EscapesViaSymlink(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "escape")
	require.NoError(t, os.Symlink(outside, link))

	candidate := filepath.Join(link, "file")
	ok, err := IsWithin(base, candidate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsWithin_SiblingDirectoryWithSharedPrefix(t *testing.T) {
	parent := t.TempDir()
	base := filepath.Join(parent, "volume")
	sibling := filepath.Join(parent, "volume-other", "file")
	require.NoError(t, os.MkdirAll(base, 0o755))

	ok, err := IsWithin(base, sibling)
	require.NoError(t, err)
	assert.False(t, ok, "prefix-only match on a sibling directory name must not count as contained")
}

func TestIsWithin_NonexistentLeafIsStillChecked(t *testing.T) {
	base := t.TempDir()
	candidate := filepath.Join(base, "tenant", "shard", "newfile.bin")

	ok, err := IsWithin(base, candidate)
	require.NoError(t, err)
	assert.True(t, ok, "a not-yet-created leaf path under an existing base must pass")
}
