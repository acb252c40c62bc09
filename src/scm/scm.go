// Package scm finds the repository that the language server is being run in, which is
// where we look for a project when nobody tells us where to.
// Currently, only git is supported.
package scm

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("scm")

// RepoRoot returns the root of the git repository containing the given directory.
func RepoRoot(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening git repo at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// DefaultRoots returns the given workspace roots, or if there are none, the root of the
// repository containing the working directory. If that isn't a repository either, it's
// the working directory itself.
func DefaultRoots(roots []string) ([]string, error) {
	if len(roots) > 0 {
		return roots, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := RepoRoot(wd)
	if err != nil {
		log.Debug("Not in a git repository, using %s as the workspace root: %s", wd, err)
		return []string{wd}, nil
	}
	return []string{root}, nil
}
