package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	copydeck "github.com/copydeck/copydeck-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.copydeck/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Project ConfigProject `toml:"project"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
	Locale  string `toml:"locale"`
}

// ConfigProject holds the project credentials.
type ConfigProject struct {
	ProjectID     string `toml:"project_id"`
	APIKey        string `toml:"api_key"`
	ProjectSecret string `toml:"project_secret"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.copydeck, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".copydeck")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "project.api_key").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. project.api_key)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "locale":
			cfg.Default.Locale = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "project":
		switch field {
		case "project_id":
			cfg.Project.ProjectID = value
		case "api_key":
			cfg.Project.APIKey = value
		case "project_secret":
			cfg.Project.ProjectSecret = value
		default:
			return fmt.Errorf("unknown field %q in section [project]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, project)", section)
	}
	return nil
}

// ============================================================================
// SDK construction
// ============================================================================

var verbose bool

// newSDK builds a configured SDK from the CLI config. The content cache
// lives next to the config file so repeated invocations share it.
func newSDK() (*copydeck.SDK, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Project.ProjectID == "" || cfg.Project.APIKey == "" || cfg.Project.ProjectSecret == "" {
		return nil, fmt.Errorf("no project credentials; run 'copydeck init <project-id> <api-key> <project-secret>' first")
	}
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	opts := []copydeck.Option{
		copydeck.WithStorageDir(filepath.Join(dir, "cache")),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, copydeck.WithBaseURL(cfg.Default.BaseURL))
	}
	if verbose {
		opts = append(opts, copydeck.WithLogger(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))))
	}

	sdk := copydeck.New(opts...)
	if err := sdk.Configure(cfg.Project.ProjectID, cfg.Project.APIKey, cfg.Project.ProjectSecret); err != nil {
		return nil, err
	}
	if cfg.Default.Locale != "" {
		sdk.SetLanguage(context.Background(), cfg.Default.Locale, false)
	}
	return sdk, nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "copydeck",
	Short: "CopyDeck SDK CLI",
	Long:  "Command-line interface for the CopyDeck content SDK.\nManage configuration, sync content namespaces, and inspect cached content.",
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log SDK internals to stderr")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
