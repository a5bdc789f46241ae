package manifest

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the workload description file: line-oriented `key: value`
// pairs naming the two data directories the workload reads and writes.
// Values may be relative (resolved against the repository root) or absolute.
type Manifest struct {
	OutputDir   string `yaml:"output_dir"`
	SynthpopDir string `yaml:"synthpop_dir"`
}

// Parse decodes a workload description file. Both keys are required.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse workload description: %w", err)
	}
	if m.OutputDir == "" {
		return nil, fmt.Errorf("workload description missing required key: output_dir")
	}
	if m.SynthpopDir == "" {
		return nil, fmt.Errorf("workload description missing required key: synthpop_dir")
	}
	return &m, nil
}

// Resolve returns the absolute output and synthpop directories, resolving
// relative values against the repository root. For remote targets the repo
// root is a POSIX path regardless of the local platform, so joining uses
// forward slashes whenever the root looks POSIX-absolute.
func (m *Manifest) Resolve(repoRoot string) (outputDir, synthpopDir string) {
	return Join(repoRoot, m.OutputDir), Join(repoRoot, m.SynthpopDir)
}

// Join resolves a possibly-relative value against a repository root with
// the same POSIX-awareness as Resolve.
func Join(root, value string) string {
	if strings.HasPrefix(root, "/") {
		// POSIX root: keep forward-slash semantics even on Windows hosts.
		if strings.HasPrefix(value, "/") {
			return path.Clean(value)
		}
		return path.Join(root, value)
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(root, value)
}

// IsForeignAbsolute reports whether a resolved directory looks like a POSIX
// absolute path while the session runs locally on a non-POSIX platform.
// Such a value indicates a description file written for the remote side.
func IsForeignAbsolute(dir, goos string) bool {
	return goos == "windows" && strings.HasPrefix(dir, "/")
}
