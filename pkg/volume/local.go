package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/deepdriveio/botworker/pkg/identity"
)

// Manager creates and tears down the per-eval results-mount directory
// an EVAL job's problem container writes results.json into.
type Manager struct {
	basePath string
}

// NewManager returns a Manager rooted at basePath (created if
// absent).
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		return nil, fmt.Errorf("volume: basePath cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("volume: create base directory: %w", err)
	}
	return &Manager{basePath: basePath}, nil
}

// NewDefaultManager roots the Manager at identity.ResultsMountBase.
func NewDefaultManager(cfg identity.Config, inContainer bool) (*Manager, error) {
	return NewManager(identity.ResultsMountBase(cfg, inContainer))
}

// Path returns the host directory for evalID's results mount, without
// creating it.
func (m *Manager) Path(evalID string) string {
	return filepath.Join(m.basePath, evalID)
}

// Create makes evalID's results directory and returns its host path.
func (m *Manager) Create(evalID string) (string, error) {
	path := m.Path(evalID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("volume: create results dir %s: %w", path, err)
	}
	return path, nil
}

// Cleanup removes evalID's results directory and everything in it.
func (m *Manager) Cleanup(evalID string) error {
	path := m.Path(evalID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("volume: cleanup results dir %s: %w", path, err)
	}
	return nil
}
