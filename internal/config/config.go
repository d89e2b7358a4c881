package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
	Plugins PluginsConfig `yaml:"plugins"`
	Clients ClientsConfig `yaml:"clients"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type WatchConfig struct {
	Debounce              time.Duration `yaml:"debounce"`
	IgnoredPathSubstrings []string      `yaml:"ignored_path_substrings"`
}

type PluginsConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	DefaultAction string        `yaml:"default_action"`
}

type ClientsConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
			IgnoredPathSubstrings: []string{
				".git/",
				".hg/",
				".svn/",
				"node_modules/",
				"dist/",
				"build/",
			},
		},
		Plugins: PluginsConfig{
			Timeout:       5 * time.Second,
			DefaultAction: "ignore",
		},
		Clients: ClientsConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

// Default returns the built-in configuration, used when no config file
// is present.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config file over the defaults. Missing keys keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Snapshot is the client-facing view of the configuration, sent in the
// connected message so clients can mirror server timings.
type Snapshot struct {
	DebounceMs          int64    `json:"debounceMs"`
	PluginTimeoutMs     int64    `json:"pluginTimeoutMs"`
	HeartbeatIntervalMs int64    `json:"heartbeatIntervalMs"`
	IgnoredPaths        []string `json:"ignoredPaths"`
	DefaultAction       string   `json:"defaultAction"`
}

// Snapshot builds the client-facing view of c.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		DebounceMs:          c.Watch.Debounce.Milliseconds(),
		PluginTimeoutMs:     c.Plugins.Timeout.Milliseconds(),
		HeartbeatIntervalMs: c.Clients.HeartbeatInterval.Milliseconds(),
		IgnoredPaths:        c.Watch.IgnoredPathSubstrings,
		DefaultAction:       c.Plugins.DefaultAction,
	}
}
