package lint

import (
	"errors"

	"github.com/thought-machine/psalm-langserver/src/core"
	"github.com/thought-machine/psalm-langserver/src/fs"
)

// ErrNotApplicable is returned for files that we don't lint; either they have the wrong
// extension or they aren't in a monitored project.
var ErrNotApplicable = errors.New("file is not in a monitored project")

// A Target is a single file that is going to be linted.
type Target struct {
	// Filename is the absolute path to the file.
	Filename string
	// Root is the project root that contains it.
	Root string
	// Path is the file's path relative to Root; this is what psalm is given.
	Path string
}

// NewTarget resolves a file against the known workspace roots and checks that its project is one
// we should lint. It returns ErrNotApplicable if not.
func NewTarget(config *core.Configuration, roots []string, filename string) (*Target, error) {
	if !fs.HasExtension(filename, config.Project.Extension) {
		return nil, ErrNotApplicable
	}
	root, path := core.ResolveProjectRoot(roots, filename)
	ok, err := core.IsMonitoredProject(config, root)
	if err != nil {
		log.Warning("Not linting %s: %s", filename, err)
		return nil, ErrNotApplicable
	} else if !ok {
		return nil, ErrNotApplicable
	}
	return &Target{Filename: filename, Root: root, Path: path}, nil
}
