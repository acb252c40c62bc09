// Package fs provides various filesystem helpers.
package fs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterebden/go-deferred-regex"
)

var homeRex = deferredregex.DeferredRegex{Re: "(?:^|:)(~(?:[/:]|$))"}

// ExpandHomePath expands all prefixes of ~ without a user specifier to $HOME.
func ExpandHomePath(path string) string {
	return ExpandHomePathTo(path, os.Getenv("HOME"))
}

// ExpandHomePathTo expands all prefixes of ~ without a user specifier to the given string.
func ExpandHomePathTo(path, to string) string {
	return homeRex.ReplaceAllStringFunc(path, func(subpath string) string {
		return strings.ReplaceAll(subpath, "~", to)
	})
}

// FileExists returns true if the given path exists and is a file.
func FileExists(filename string) bool {
	info, err := os.Lstat(filename)
	return err == nil && !info.IsDir()
}

// IsDirectory checks if a given path is a directory
func IsDirectory(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && info.IsDir()
}

// HasExtension returns true if the filename ends in one of the given extensions.
// An empty list of extensions matches everything.
func HasExtension(filename string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(filename)
	for _, e := range extensions {
		if ext == e || ext == "."+e {
			return true
		}
	}
	return false
}
