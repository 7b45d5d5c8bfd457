package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"holoncert/pkg/common/logger"
)

// Config represents the holonserve configuration
type Config struct {
	Listen     string        `json:"listen" mapstructure:"listen"`
	SDK        string        `json:"sdk" mapstructure:"sdk"`
	SDKVersion string        `json:"sdk_version" mapstructure:"sdk_version"`
	PoolSize   int           `json:"pool_size" mapstructure:"pool_size"`
	RatePerSec float64       `json:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst  int           `json:"rate_burst" mapstructure:"rate_burst"`
	Logger     logger.Config `json:"logger" mapstructure:"logger"`
}

var appConfig *Config

func setDefaults() {
	viper.SetDefault("listen", ":9000")
	viper.SetDefault("sdk", "go-holons")
	viper.SetDefault("sdk_version", "0.3.0")
	viper.SetDefault("pool_size", 64)
	viper.SetDefault("rate_per_sec", 100.0)
	viper.SetDefault("rate_burst", 100)
	def := logger.DefaultConfig()
	viper.SetDefault("logger.level", def.Level)
	viper.SetDefault("logger.format", def.Format)
	viper.SetDefault("logger.time_format", def.TimeFormat)
	viper.SetDefault("logger.output", def.Output)
}

// Load loads the configuration from a holonserve.json file
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("holonserve")
	viper.SetConfigType("json")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// If config file doesn't exist, create a default one
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	appConfig = &config
	return &config, nil
}

// createDefaultConfig writes a holonserve.json with the default values
func createDefaultConfig() (*Config, error) {
	configFile := filepath.Join(".", "holonserve.json")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return nil, fmt.Errorf("error creating default config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	appConfig = &config
	return &config, nil
}

// Get returns the current configuration
func Get() *Config {
	if appConfig == nil {
		return &Config{
			Listen:     ":9000",
			SDK:        "go-holons",
			SDKVersion: "0.3.0",
			PoolSize:   64,
			RatePerSec: 100,
			RateBurst:  100,
			Logger: logger.Config{
				Level:      "info",
				Format:     "console",
				TimeFormat: time.RFC3339,
				Output:     "stderr",
			},
		}
	}
	return appConfig
}
