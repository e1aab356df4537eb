package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager manages configuration loading, validation, and access
type Manager struct {
	config *Config
	loader *Loader
	mu     sync.RWMutex
}

// NewManager loads configuration from the standard locations. When
// explicitPath is set it is layered on top of every other file and must
// exist.
func NewManager(explicitPath string) (*Manager, error) {
	precedence := GetConfigPaths()
	precedence.ExplicitConfig = explicitPath
	loader := NewLoader(precedence)

	config, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return &Manager{
		config: config,
		loader: loader,
	}, nil
}

// NewManagerWithConfig creates a manager with a specific configuration
func NewManagerWithConfig(config *Config) (*Manager, error) {
	loader := NewLoader(ConfigPrecedence{})
	if err := loader.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Manager{
		config: config,
		loader: loader,
	}, nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate re-validates the current configuration
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loader.validator.Validate(m.config)
}

// ExportConfig renders the configuration as indented JSON. Secrets are
// blanked unless includeSecrets is set.
func (m *Manager) ExportConfig(includeSecrets bool) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	export := *m.config
	if !includeSecrets && export.Tracker.Token != "" {
		export.Tracker.Token = "***"
	}

	return json.MarshalIndent(&export, "", "  ")
}
