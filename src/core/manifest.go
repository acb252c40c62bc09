package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thought-machine/psalm-langserver/src/fs"
)

// A Manifest is the subset of composer.json that we care about.
type Manifest struct {
	Config struct {
		Name string `json:"name"`
	} `json:"config"`
}

// ReadManifest reads and parses a manifest file.
func ReadManifest(filename string) (*Manifest, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return m, nil
}

// IsMonitoredProject returns true if the given root contains a manifest naming the configured project.
// A root without a manifest is just not one of ours, so that isn't an error.
func IsMonitoredProject(config *Configuration, root string) (bool, error) {
	filename := filepath.Join(root, config.Project.Manifest)
	if root == "" || !fs.FileExists(filename) {
		return false, nil
	}
	m, err := ReadManifest(filename)
	if err != nil {
		return false, err
	}
	return m.Config.Name == config.Project.Name, nil
}
