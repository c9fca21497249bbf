// Package config loads server configuration from defaults, an optional JSON
// config file and LOCALCHAT_* environment variables, in increasing order of
// precedence. The result is built once at startup and passed by reference;
// nothing reads configuration lazily at call sites.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const appName = "localchat"

// Config holds everything the server needs at startup.
type Config struct {
	Port       int    `json:"port" mapstructure:"port"`
	DataDir    string `json:"dataDir" mapstructure:"dataDir"`
	CORSOrigin string `json:"corsOrigin" mapstructure:"corsOrigin"`
	Debug      bool   `json:"debug" mapstructure:"debug"`

	OllamaEndpoint     string  `json:"ollamaEndpoint" mapstructure:"ollamaEndpoint"`
	DefaultModel       string  `json:"defaultModel" mapstructure:"defaultModel"`
	DefaultTemperature float64 `json:"defaultTemperature" mapstructure:"defaultTemperature"`
	DefaultMaxTokens   int     `json:"defaultMaxTokens" mapstructure:"defaultMaxTokens"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3001)
	v.SetDefault("dataDir", defaultDataDir())
	v.SetDefault("corsOrigin", "http://localhost:5173")
	v.SetDefault("debug", false)
	v.SetDefault("ollamaEndpoint", "http://localhost:11434")
	v.SetDefault("defaultModel", "llama3.2")
	v.SetDefault("defaultTemperature", 0.7)
	v.SetDefault("defaultMaxTokens", 2048)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, "."+appName, "data")
}

// Load builds the configuration. configPath may be empty, in which case only
// defaults and environment variables apply; a missing file at an explicit
// path is an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 1 {
		return fmt.Errorf("defaultTemperature %v out of range [0,1]", c.DefaultTemperature)
	}
	if c.DefaultMaxTokens < 1 || c.DefaultMaxTokens > 8192 {
		return fmt.Errorf("defaultMaxTokens %d out of range [1,8192]", c.DefaultMaxTokens)
	}
	if c.OllamaEndpoint == "" {
		return fmt.Errorf("ollamaEndpoint must not be empty")
	}
	return nil
}
