package core

import (
	"strings"
	"sync"
)

// A Workspace is the set of root folders that the editor has open, in the order it gave them to us.
type Workspace struct {
	roots []string
	mutex sync.RWMutex
}

// NewWorkspace returns a new Workspace with the given roots.
func NewWorkspace(roots ...string) *Workspace {
	w := &Workspace{}
	for _, root := range roots {
		w.Add(root)
	}
	return w
}

// Add adds a root to the end of the workspace. Empty and duplicate roots are ignored.
func (w *Workspace) Add(root string) {
	if root == "" {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for _, r := range w.roots {
		if r == root {
			return
		}
	}
	w.roots = append(w.roots, root)
}

// Remove removes a root from the workspace.
func (w *Workspace) Remove(root string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for i, r := range w.roots {
		if r == root {
			w.roots = append(w.roots[:i:i], w.roots[i+1:]...)
			return
		}
	}
}

// Roots returns a copy of the current roots.
func (w *Workspace) Roots() []string {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return append([]string(nil), w.roots...)
}

// ResolveProjectRoot picks the first of the roots that is a prefix of filename, and returns it along
// with the filename minus that prefix and one leading separator.
// The match is on the string, not on path components, so /srv/app also claims /srv/application/x.php.
// If nothing matches, the root is empty and the filename is returned unchanged.
func ResolveProjectRoot(roots []string, filename string) (root, rel string) {
	for _, r := range roots {
		if r != "" && strings.HasPrefix(filename, r) {
			return r, strings.TrimPrefix(filename[len(r):], "/")
		}
	}
	return "", filename
}
