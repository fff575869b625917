// Package config loads connection settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/boltsalt/internal/connector"
	"github.com/eugenetaranov/boltsalt/internal/connector/saltapi"
)

// Config is the on-disk and environment configuration.
type Config struct {
	// URL of the salt-api endpoint.
	URL string `yaml:"url" envconfig:"SALTAPI_URL"`

	// Token sent as X-Auth-Token.
	Token string `yaml:"token" envconfig:"SALTAPI_TOKEN"`

	// ValidateCerts toggles TLS verification. Defaults to true.
	ValidateCerts bool `yaml:"validate_certs" envconfig:"SALTAPI_VALIDATE_CERTS"`

	// Timeout per HTTP request, as a duration string such as "45s".
	Timeout time.Duration `yaml:"timeout" envconfig:"SALTAPI_TIMEOUT"`

	// Retries for idempotent transfers.
	Retries int `yaml:"retries" envconfig:"SALTAPI_RETRIES"`

	// Shell passed to cmd.exec_code_all.
	Shell string `yaml:"shell" envconfig:"SALTAPI_SHELL"`

	// ReadCommand is the download command template.
	ReadCommand string `yaml:"read_command" envconfig:"SALTAPI_READ_COMMAND"`

	// LogLevel and LogFormat configure the logger.
	LogLevel  string `yaml:"log_level" envconfig:"SALTAPI_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"SALTAPI_LOG_FORMAT"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ValidateCerts: true,
		Timeout:       saltapi.DefaultTimeout,
		Shell:         saltapi.DefaultShell,
		ReadCommand:   saltapi.DefaultReadCommand,
		LogLevel:      "warn",
		LogFormat:     "text",
	}
}

// DefaultPath returns ~/.boltsalt/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".boltsalt", "config.yaml"), nil
}

// Load builds the configuration from defaults, the YAML file at path and
// then the environment. A missing file is only an error when required is
// set, which callers use for an explicit --config flag.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || required {
				return Config{}, connector.NewError(connector.ErrConfiguration, "", err)
			}
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, connector.NewError(connector.ErrConfiguration, "", fmt.Errorf("failed to read environment: %w", err))
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// SaltAPI returns the connection settings for the salt-api connector.
func (c Config) SaltAPI() saltapi.Config {
	return saltapi.Config{
		URL:                c.URL,
		Token:              c.Token,
		SkipCertValidation: !c.ValidateCerts,
		Timeout:            c.Timeout,
		Retries:            c.Retries,
	}
}

// Validate checks the settings needed to open a salt-api connection.
func (c Config) Validate() error {
	return c.SaltAPI().Validate()
}
