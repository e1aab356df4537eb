package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Loader handles loading and layering configurations from multiple sources
type Loader struct {
	precedence ConfigPrecedence
	validator  *Validator
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader(precedence ConfigPrecedence) *Loader {
	return &Loader{
		precedence: precedence,
		validator:  NewValidator(),
		getenv:     os.Getenv,
	}
}

// Load loads configuration from all sources. Each file is decoded on top
// of the result of the previous one, so a file only overrides the keys it
// sets. Slices are replaced, not appended.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	sources := []struct {
		path   string
		source ConfigSource
	}{
		{l.precedence.SystemConfig, SourceSystem},
		{l.precedence.UserConfig, SourceUser},
		{l.precedence.ProjectConfig, SourceProject},
		{l.precedence.ExplicitConfig, SourceExplicit},
	}

	for _, src := range sources {
		if src.path == "" {
			continue
		}

		err := l.overlayFile(config, src.path)
		if err == nil {
			continue
		}
		// A missing explicit file is an error; missing implicit files are not
		if os.IsNotExist(err) && src.source != SourceExplicit {
			continue
		}
		return nil, fmt.Errorf("failed to load %s config from %s: %w", src.source, src.path, err)
	}

	if l.precedence.EnvironmentPrefix != "" {
		if err := l.applyEnvironmentOverrides(config); err != nil {
			return nil, err
		}
	}

	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// overlayFile decodes path into config. JSON files may carry comments and
// trailing commas; .yaml and .yml files are decoded as YAML.
func (l *Loader) overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return nil
}

// SaveFile saves configuration to a file, pretty printed
func (l *Loader) SaveFile(config *Config, path string) error {
	if err := l.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func (l *Loader) applyEnvironmentOverrides(config *Config) error {
	prefix := l.precedence.EnvironmentPrefix + "_"

	strs := map[string]*string{
		"LOCAL_ID":      &config.Peer.LocalID,
		"REMOTE_ID":     &config.Peer.RemoteID,
		"PEER_URL":      &config.Peer.RemoteURL,
		"REPO":          &config.Dialog.Repo,
		"TRACKER":       &config.Tracker.Backend,
		"GITHUB_TOKEN":  &config.Tracker.Token,
		"SCRIPTS_DIR":   &config.Executor.ScriptsDir,
		"SKILLS_DIR":    &config.Executor.SkillsDir,
		"STORE_BACKEND": &config.Storage.Backend,
		"STATE_DIR":     &config.Storage.Dir,
		"ADDR":          &config.Server.Addr,
		"LOG_LEVEL":     &config.Logging.Level,
		"LOG_FORMAT":    &config.Logging.Format,
		"MAIL_TO":       &config.Mail.To,
	}
	for key, dst := range strs {
		if v := l.getenv(prefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"COOLDOWN":             &config.Safeguard.Cooldown,
		"CONVERSATION_TIMEOUT": &config.Safeguard.ConversationTimeout,
		"CLEANUP_HORIZON":      &config.Safeguard.CleanupHorizon,
		"PROMPT_TIMEOUT":       &config.Dialog.PromptTimeout,
	}
	for key, dst := range durations {
		v := l.getenv(prefix + key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", prefix, key, err)
		}
		*dst = Duration(d)
	}

	if v := l.getenv(prefix + "MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_TURNS: %w", prefix, err)
		}
		config.Safeguard.MaxTurns = n
	}

	// Fall back to the conventional token variable for the REST tracker
	if config.Tracker.Token == "" && config.Tracker.TokenEnvVar != "" {
		config.Tracker.Token = l.getenv(config.Tracker.TokenEnvVar)
	}

	return nil
}

// GetConfigPaths returns the configuration file paths to check
func GetConfigPaths() ConfigPrecedence {
	return ConfigPrecedence{
		SystemConfig:      filepath.Join("/etc", appName, "config.json"),
		UserConfig:        GetDefaultConfigPath(),
		ProjectConfig:     FindProjectConfig("."),
		EnvironmentPrefix: "P2PRELAY",
	}
}

// FindProjectConfig returns the first project config file present in dir,
// or "" when there is none
func FindProjectConfig(dir string) string {
	for _, name := range []string{"p2prelay.json", "p2prelay.yaml", "p2prelay.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
