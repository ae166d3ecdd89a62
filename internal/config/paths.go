package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths locates the files vkb keeps under its data directory.
type Paths struct {
	DataDir string
}

// StorageDir is where the embedded backend keeps its database.
func (p Paths) StorageDir() string { return filepath.Join(p.DataDir, "storage") }

// RegistryFile is the collection registry (kb_config.json).
func (p Paths) RegistryFile() string { return filepath.Join(p.DataDir, RegistryFileName) }

// ModelsFile is the model registry (models_config.json).
func (p Paths) ModelsFile() string { return filepath.Join(p.DataDir, ModelsFileName) }

// ResolvePaths picks the data directory: the explicit DataDir setting when
// present, ./data/qdrant when it exists and is writable, otherwise
// ~/qdrant_knowledge_base/data. The chosen directory is created.
func (s *Settings) ResolvePaths() (Paths, error) {
	dir := s.DataDir
	if dir == "" {
		local := filepath.Join("data", "qdrant")
		if dirExists(local) && writable(local) {
			dir = local
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return Paths{}, fmt.Errorf("cannot determine home directory: %w", err)
			}
			dir = filepath.Join(home, fallbackDirName, "data")
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return Paths{}, fmt.Errorf("invalid data directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Paths{}, fmt.Errorf("failed to create data directory %s: %w", abs, err)
	}
	return Paths{DataDir: abs}, nil
}

// writable probes dir by creating and removing a temp file.
func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".vkb-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
