package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T) string {
	dir := t.TempDir()
	for _, d := range []string{"src/Plot", "vendor/symfony", ".git/objects", "node_modules/left-pad"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0755))
	}
	return dir
}

// start runs a watcher in the background and returns a channel of the batches it reports.
func start(t *testing.T, roots ...string) (*Watcher, <-chan []string) {
	w, err := New(roots, []string{".php"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []string, 10)
	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Run(ctx, func(files []string) { ch <- files }))
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, ch
}

func receive(t *testing.T, ch <-chan []string) []string {
	select {
	case files := <-ch:
		return files
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for changes")
		return nil
	}
}

func TestNewSkipsDirectories(t *testing.T) {
	dir := newTree(t)
	w, err := New([]string{dir}, []string{".php"})
	require.NoError(t, err)
	defer w.watcher.Close()
	assert.Contains(t, w.dirs, dir)
	assert.Contains(t, w.dirs, filepath.Join(dir, "src/Plot"))
	assert.NotContains(t, w.dirs, filepath.Join(dir, "vendor"))
	assert.NotContains(t, w.dirs, filepath.Join(dir, "vendor/symfony"))
	assert.NotContains(t, w.dirs, filepath.Join(dir, ".git"))
	assert.NotContains(t, w.dirs, filepath.Join(dir, "node_modules"))
}

func TestNewMissingRoot(t *testing.T) {
	_, err := New([]string{"/this/does/not/exist"}, nil)
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	dir := newTree(t)
	_, ch := start(t, dir)
	filename := filepath.Join(dir, "src/Plot/PlotService.php")
	require.NoError(t, os.WriteFile(filename, []byte("<?php\n"), 0644))
	assert.Equal(t, []string{filename}, receive(t, ch))
}

func TestWatchDebounces(t *testing.T) {
	dir := newTree(t)
	_, ch := start(t, dir)
	a := filepath.Join(dir, "src/A.php")
	b := filepath.Join(dir, "src/B.php")
	require.NoError(t, os.WriteFile(b, []byte("<?php\n"), 0644))
	require.NoError(t, os.WriteFile(a, []byte("<?php\n"), 0644))
	require.NoError(t, os.WriteFile(a, []byte("<?php\necho 1;\n"), 0644))
	assert.Equal(t, []string{a, b}, receive(t, ch))
}

func TestWatchIgnoresOtherExtensions(t *testing.T) {
	dir := newTree(t)
	_, ch := start(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src/README.md"), []byte("hello"), 0644))
	time.Sleep(5 * debounceInterval)
	filename := filepath.Join(dir, "src/Plot/Plot.php")
	require.NoError(t, os.WriteFile(filename, []byte("<?php\n"), 0644))
	assert.Equal(t, []string{filename}, receive(t, ch))
}

func TestWatchNewDirectory(t *testing.T) {
	dir := newTree(t)
	_, ch := start(t, dir)
	sub := filepath.Join(dir, "src/Invoice")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(5 * debounceInterval) // Give it a chance to add the watch.
	filename := filepath.Join(sub, "Invoice.php")
	require.NoError(t, os.WriteFile(filename, []byte("<?php\n"), 0644))
	assert.Equal(t, []string{filename}, receive(t, ch))
}
