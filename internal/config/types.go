package config

import "time"

// Config represents the complete steward configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	JobGraph JobGraphConfig `yaml:"jobgraph"`
	Election ElectionConfig `yaml:"election"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	NodeID          string        `yaml:"node_id"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// JobGraphConfig selects where submitted job graphs are persisted.
type JobGraphConfig struct {
	Backend  string `yaml:"backend"`
	LockPath string `yaml:"lock_path"`
}

const (
	ElectionStandalone = "standalone"
	ElectionLease      = "lease"
)

// ElectionConfig selects how leadership is decided.
type ElectionConfig struct {
	Mode            string        `yaml:"mode"`
	LeaseName       string        `yaml:"lease_name"`
	LeaseDuration   time.Duration `yaml:"lease_duration"`
	RenewInterval   time.Duration `yaml:"renew_interval"`
	AcquireInterval time.Duration `yaml:"acquire_interval"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config for a single node with a local state file.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "steward",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		JobGraph: JobGraphConfig{
			Backend: BackendSQLite,
		},
		Election: ElectionConfig{
			Mode:            ElectionStandalone,
			LeaseName:       "dispatcher",
			LeaseDuration:   15 * time.Second,
			RenewInterval:   5 * time.Second,
			AcquireInterval: 2 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
