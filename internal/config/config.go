package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories
	AppName = "usnwatch"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "USNWATCH"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Journal settings
	Journal struct {
		// Volume is the drive locator whose change journal is tracked.
		Volume string `mapstructure:"volume"`

		// BufferSize is the per-batch read buffer in bytes.
		BufferSize int `mapstructure:"buffer_size"`

		// Reasons lists the reason flag names passed to the OS filter.
		// Empty selects the built-in default mask.
		Reasons []string `mapstructure:"reasons"`

		// PollInterval is the backoff between reads once caught up.
		PollInterval time.Duration `mapstructure:"poll_interval"`

		// MaxPending bounds the rename correlator's pending table.
		MaxPending int `mapstructure:"max_pending"`

		// FromStart replays all retained journal history instead of
		// tracking from the current head.
		FromStart bool `mapstructure:"from_start"`
	} `mapstructure:"journal"`

	// Store settings
	Store struct {
		// Path of the sqlite evidence database. Empty disables
		// persistence.
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	// Export settings
	Export struct {
		Path     string `mapstructure:"path"`
		Compress bool   `mapstructure:"compress"`
	} `mapstructure:"export"`

	// Metrics settings
	Metrics struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
	} `mapstructure:"metrics"`
}

// Global variables
var (
	// Global configuration instance
	Instance AppConfig

	// Status indicators
	ConfigLoaded bool
	ConfigFile   string

	// Viper instance
	v *viper.Viper

	// Ensure thread safety
	initOnce sync.Once
)

// Initialize sets up the configuration system
func Initialize(cfgFile string) error {
	var err error

	initOnce.Do(func() {
		// Create a new viper instance
		v = viper.New()

		// Set default values
		setDefaults(v)

		// Load configuration from file if specified
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else {
			// Set config name and type
			v.SetConfigName(AppName)
			v.SetConfigType("yaml")

			// Search in standard locations
			v.AddConfigPath(".")
			if home, homeErr := os.UserHomeDir(); homeErr == nil {
				v.AddConfigPath(filepath.Join(home, ".config", AppName))
			}
			v.AddConfigPath(filepath.Join("/etc", AppName))
		}

		// Environment variables override file settings
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// Read the config file; a missing file is fine, defaults apply
		if readErr := v.ReadInConfig(); readErr != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(readErr, &notFound) {
				err = fmt.Errorf("error reading config file: %w", readErr)
				return
			}
		} else {
			ConfigLoaded = true
			ConfigFile = v.ConfigFileUsed()
		}

		if unmarshalErr := v.Unmarshal(&Instance); unmarshalErr != nil {
			err = fmt.Errorf("error parsing configuration: %w", unmarshalErr)
		}
	})

	return err
}

// setDefaults establishes the default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")

	v.SetDefault("journal.volume", "C:")
	v.SetDefault("journal.buffer_size", 1<<20)
	v.SetDefault("journal.reasons", []string{})
	v.SetDefault("journal.poll_interval", "2s")
	v.SetDefault("journal.max_pending", 65536)
	v.SetDefault("journal.from_start", false)

	v.SetDefault("store.path", "")

	v.SetDefault("export.path", "renames.jsonl")
	v.SetDefault("export.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", ":9309")
}

// Viper returns the underlying viper instance for flag binding
func Viper() *viper.Viper {
	return v
}

// Reload re-reads the active config file into the global instance
func Reload() error {
	if v == nil {
		return fmt.Errorf("configuration not initialized")
	}
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(&Instance)
}
