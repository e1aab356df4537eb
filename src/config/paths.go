package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "p2prelay"

// GetDefaultStatePath returns the directory holding conversation state and logs
func GetDefaultStatePath() string {
	// XDG_STATE_HOME is for data that should persist between restarts but
	// is not important enough for XDG_DATA_HOME
	return filepath.Join(xdg.StateHome, appName)
}

// GetDefaultDataPath returns the default data directory path
func GetDefaultDataPath() string {
	return filepath.Join(xdg.DataHome, appName)
}

// GetDefaultConfigPath returns the user config file path
func GetDefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.json")
}

// StatePath resolves name inside the configured state directory
func (c *Config) StatePath(name string) string {
	dir := c.Storage.Dir
	if dir == "" {
		dir = GetDefaultStatePath()
	}
	return filepath.Join(dir, name)
}
