package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/distribution/reference"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. PUBLISHER_APP_NAME
const envPrefix = "PUBLISHER"

// historyFile is the default ledger location relative to the XDG data home
const historyFile = "image-publisher/history.db"

// Config holds all configuration for the application
type Config struct {
	AWS       AWSConfig       `yaml:"aws"`
	App       AppConfig       `yaml:"app"`
	Registry  RegistryConfig  `yaml:"registry"`
	Publisher PublisherConfig `yaml:"publisher"`
	Output    OutputConfig    `yaml:"output"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// AWSConfig selects the account credentials and region
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// AppConfig describes the image being published
type AppConfig struct {
	Name       string `yaml:"name"`
	Tag        string `yaml:"tag"`
	ContextDir string `yaml:"context_dir"`
	Dockerfile string `yaml:"dockerfile"`
}

// RegistryConfig holds container registry configuration
type RegistryConfig struct {
	DomainSuffix string `yaml:"domain_suffix"`
}

// PublisherConfig selects how the workflow talks to docker and AWS
type PublisherConfig struct {
	Backend string        `yaml:"backend"`
	Prune   bool          `yaml:"prune"`
	Sudo    bool          `yaml:"sudo"`
	Timeout time.Duration `yaml:"timeout"`
}

// OutputConfig holds artifact locations
type OutputConfig struct {
	ImageDetail string `yaml:"image_detail"`
}

// HistoryConfig holds run ledger configuration
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from defaults, an optional config file and the
// environment. An explicit configFile must exist; otherwise publisher.yaml is
// looked up in . and ./config.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("publisher")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set defaults
	setDefaults(v)

	// Read config file (optional unless explicit)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("aws.region", envPrefix+"_AWS_REGION", "AWS_REGION"); err != nil {
		return nil, fmt.Errorf("failed to bind region env: %w", err)
	}
	if err := v.BindEnv("aws.profile", envPrefix+"_AWS_PROFILE", "AWS_PROFILE"); err != nil {
		return nil, fmt.Errorf("failed to bind profile env: %w", err)
	}

	config := &Config{
		AWS: AWSConfig{
			Region:  v.GetString("aws.region"),
			Profile: v.GetString("aws.profile"),
		},
		App: AppConfig{
			Name:       v.GetString("app.name"),
			Tag:        v.GetString("app.tag"),
			ContextDir: v.GetString("app.context_dir"),
			Dockerfile: v.GetString("app.dockerfile"),
		},
		Registry: RegistryConfig{
			DomainSuffix: v.GetString("registry.domain_suffix"),
		},
		Publisher: PublisherConfig{
			Backend: v.GetString("publisher.backend"),
			Prune:   v.GetBool("publisher.prune"),
			Sudo:    v.GetBool("publisher.sudo"),
			Timeout: v.GetDuration("publisher.timeout"),
		},
		Output: OutputConfig{
			ImageDetail: v.GetString("output.image_detail"),
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			Driver:  v.GetString("history.driver"),
			DSN:     v.GetString("history.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if config.History.Driver == "sqlite" && config.History.DSN == "" {
		dsn, err := DefaultHistoryPath()
		if err != nil {
			return nil, err
		}
		config.History.DSN = dsn
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// AWS defaults
	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("aws.profile", "")

	// App defaults
	v.SetDefault("app.name", "go-blue-green-app")
	v.SetDefault("app.tag", "latest")
	v.SetDefault("app.context_dir", ".")
	v.SetDefault("app.dockerfile", "")

	// Registry defaults
	v.SetDefault("registry.domain_suffix", "amazonaws.com")

	// Publisher defaults
	v.SetDefault("publisher.backend", "cli")
	v.SetDefault("publisher.prune", true)
	v.SetDefault("publisher.sudo", false)
	v.SetDefault("publisher.timeout", 30*time.Minute)

	// Output defaults
	v.SetDefault("output.image_detail", "")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// DefaultHistoryPath returns the sqlite ledger path under the XDG data home
func DefaultHistoryPath() (string, error) {
	path, err := xdg.DataFile(historyFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve history path: %w", err)
	}
	return path, nil
}

// Validate checks the configuration for a publish run
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AWS.Region) == "" {
		return errors.New("aws.region is required")
	}
	if strings.TrimSpace(c.App.Name) == "" {
		return errors.New("app.name is required")
	}

	if err := validateImageReference(c.App.Name, c.App.Tag); err != nil {
		return err
	}

	switch c.Publisher.Backend {
	case "cli", "sdk":
	default:
		return fmt.Errorf("publisher.backend must be cli or sdk, got %q", c.Publisher.Backend)
	}

	if c.Publisher.Timeout < 0 {
		return errors.New("publisher.timeout must not be negative")
	}

	if c.History.Enabled {
		switch c.History.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("history.driver must be sqlite or postgres, got %q", c.History.Driver)
		}
		if c.History.DSN == "" {
			return errors.New("history.dsn is required")
		}
	}

	return nil
}

// validateImageReference checks that name:tag forms a valid local image reference
func validateImageReference(name, tag string) error {
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return fmt.Errorf("invalid app.name %q: %w", name, err)
	}
	if reference.Domain(named) != "docker.io" || !reference.IsNameOnly(named) {
		return fmt.Errorf("invalid app.name %q: must be a bare repository name", name)
	}

	if tag == "" {
		return nil
	}
	if _, err := reference.WithTag(named, tag); err != nil {
		return fmt.Errorf("invalid app.tag %q: %w", tag, err)
	}

	return nil
}
