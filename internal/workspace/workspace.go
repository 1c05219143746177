// Package workspace manages the persistent work root under which every
// repository checkout and the publisher temp area live.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fhirops/igrelease/internal/logfields"
)

// Manager handles work-root directory operations. The work root is persistent
// across runs; repository checkouts under it are updated incrementally.
type Manager struct {
	root string
}

// NewManager creates a workspace manager rooted at root. An empty root falls
// back to the current directory.
func NewManager(root string) *Manager {
	if root == "" {
		root = "."
	}
	return &Manager{root: root}
}

// Create ensures the work root exists.
func (m *Manager) Create() error {
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return fmt.Errorf("failed to create work root: %w", err)
	}
	slog.Debug("Using work root", logfields.Path(m.root))
	return nil
}

// Path returns the work root path.
func (m *Manager) Path() string {
	return m.root
}

// Subdir returns the path of a named subdirectory, creating it if needed.
func (m *Manager) Subdir(name string) (string, error) {
	sub := filepath.Join(m.root, name)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory %s: %w", name, err)
	}
	return sub, nil
}

// CleanSubdir removes a named subdirectory's contents but keeps the directory.
// Used for the clean-before-build option on derived (non-checkout) folders.
func (m *Manager) CleanSubdir(name string) error {
	sub := filepath.Join(m.root, name)
	entries, err := os.ReadDir(sub)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", sub, err)
	}
	for _, entry := range entries {
		path := filepath.Join(sub, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	slog.Info("Cleaned work area", logfields.Path(sub))
	return nil
}
