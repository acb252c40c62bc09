package scm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoRoot(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	sub := filepath.Join(dir, "src", "Plot")
	require.NoError(t, os.MkdirAll(sub, 0755))

	root, err := RepoRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestRepoRootNotARepo(t *testing.T) {
	_, err := RepoRoot(t.TempDir())
	assert.Error(t, err)
}

func TestDefaultRootsGiven(t *testing.T) {
	roots, err := DefaultRoots([]string{"/srv/app", "/srv/lib"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"/srv/app", "/srv/lib"}, roots)
}

func TestDefaultRootsFromRepo(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	sub := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(sub, 0755))
	t.Chdir(sub)

	roots, err := DefaultRoots(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, roots)
}
