// This file defines the configuration structure for the application.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port  int `mapstructure:"port"`
	Store struct {
		Path      string `mapstructure:"path"`
		StateFile string `mapstructure:"state_file"`
	} `mapstructure:"store"`
	Tool struct {
		ConfigPath     string        `mapstructure:"config_path"`
		UpdateInterval time.Duration `mapstructure:"update_interval"`
	} `mapstructure:"tool"`
	Fetch struct {
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		MaxRuntime      time.Duration `mapstructure:"max_runtime"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		EmptyBatchLimit int           `mapstructure:"empty_batch_limit"`
	} `mapstructure:"fetch"`
	Subscriptions struct {
		Enabled        bool          `mapstructure:"enabled"`
		UpdateInterval time.Duration `mapstructure:"update_interval"`
		CycleInterval  time.Duration `mapstructure:"cycle_interval"`
		SleepSlice     time.Duration `mapstructure:"sleep_slice"`
	} `mapstructure:"subscriptions"`
	Zip struct {
		MaxPartSize int64 `mapstructure:"max_part_size"`
	} `mapstructure:"zip"`
	Auth struct {
		TrustListPath string `mapstructure:"trust_list_path"`
	} `mapstructure:"auth"`
	LinkRules struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"link_rules"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	// Environment variable overrides, e.g. FEEDSUB_STORE_PATH overrides
	// the `store.path` key.
	viper.SetEnvPrefix("FEEDSUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("port", 8080)
	viper.SetDefault("store.path", "./store")
	viper.SetDefault("store.state_file", "./store/subscriptions.json")
	viper.SetDefault("tool.config_path", "")
	viper.SetDefault("tool.update_interval", 24*time.Hour)
	viper.SetDefault("fetch.idle_timeout", 30*time.Minute)
	viper.SetDefault("fetch.max_runtime", time.Hour)
	viper.SetDefault("fetch.poll_interval", time.Second)
	viper.SetDefault("fetch.empty_batch_limit", 10)
	viper.SetDefault("subscriptions.enabled", true)
	viper.SetDefault("subscriptions.update_interval", 5*time.Hour)
	viper.SetDefault("subscriptions.cycle_interval", 20*time.Second)
	viper.SetDefault("subscriptions.sleep_slice", 500*time.Millisecond)
	viper.SetDefault("zip.max_part_size", int64(1_500_000_000))
	viper.SetDefault("auth.trust_list_path", "./trusted_users.yml")
	viper.SetDefault("link_rules.path", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
