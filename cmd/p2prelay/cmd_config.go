package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/elee1766/p2prelay/src/config"
)

// ConfigCmd inspects the configuration
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" help:"Print the effective configuration"`
	Validate ConfigValidateCmd `cmd:"" help:"Load and validate the configuration"`
	Schema   ConfigSchemaCmd   `cmd:"" help:"Print the JSON schema of the configuration file"`
	Init     ConfigInitCmd     `cmd:"" help:"Write the default configuration to a file"`
	Path     ConfigPathCmd     `cmd:"" help:"Print the configuration file locations"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct {
	Secrets bool   `help:"Include secrets such as the tracker token"`
	Format  string `enum:"json,yaml" default:"json" help:"Output format (json, yaml)"`
}

// Run executes the config show command
func (c *ConfigShowCmd) Run(cli *CLI) error {
	m, err := config.NewManager(cli.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	data, err := m.ExportConfig(c.Secrets)
	if err != nil {
		return err
	}
	if c.Format == "yaml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return err
		}
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// ConfigValidateCmd validates the configuration
type ConfigValidateCmd struct{}

// Run executes the config validate command
func (c *ConfigValidateCmd) Run(cli *CLI) error {
	m, err := config.NewManager(cli.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

// ConfigSchemaCmd prints the JSON schema
type ConfigSchemaCmd struct{}

// Run executes the config schema command
func (c *ConfigSchemaCmd) Run() error {
	data, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// ConfigInitCmd writes the defaults to a file
type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" type:"path" help:"Target file (defaults to the user config file)"`
	Force bool   `help:"Overwrite an existing file"`
}

// Run executes the config init command
func (c *ConfigInitCmd) Run() error {
	path := c.Path
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%w: %s exists, use --force to overwrite", errUsage, path)
	}

	if err := config.NewLoader(config.ConfigPrecedence{}).SaveFile(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

// ConfigPathCmd prints where configuration is read from
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(cli *CLI) error {
	p := config.GetConfigPaths()
	project := p.ProjectConfig
	if project == "" {
		project = filepath.Join(".", "p2prelay.json") + " (absent)"
	}
	fmt.Println("system: ", p.SystemConfig)
	fmt.Println("user:   ", p.UserConfig)
	fmt.Println("project:", project)
	if cli.Config != "" {
		fmt.Println("explicit:", cli.Config)
	}
	fmt.Println("state:  ", config.GetDefaultStatePath())
	return nil
}

// VersionCmd prints the version
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run() error {
	fmt.Println("p2prelay", version)
	return nil
}
