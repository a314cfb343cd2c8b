package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration at
// configPath. When a .checksums file sits next to it, the file's BLAKE3
// hash must match.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Service.NodeID = host
		} else {
			cfg.Service.NodeID = cfg.Service.Name
		}
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.ShutdownTimeout == 0 {
		cfg.Service.ShutdownTimeout = defaults.Service.ShutdownTimeout
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.JobGraph.Backend == "" {
		cfg.JobGraph.Backend = defaults.JobGraph.Backend
	}
	if cfg.JobGraph.LockPath == "" && cfg.State.Path != "" {
		cfg.JobGraph.LockPath = cfg.State.Path + ".writer.lock"
	}

	if cfg.Election.Mode == "" {
		cfg.Election.Mode = defaults.Election.Mode
	}
	if cfg.Election.LeaseName == "" {
		cfg.Election.LeaseName = defaults.Election.LeaseName
	}
	if cfg.Election.LeaseDuration == 0 {
		cfg.Election.LeaseDuration = defaults.Election.LeaseDuration
	}
	if cfg.Election.RenewInterval == 0 {
		cfg.Election.RenewInterval = defaults.Election.RenewInterval
	}
	if cfg.Election.AcquireInterval == 0 {
		cfg.Election.AcquireInterval = defaults.Election.AcquireInterval
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate where it
// matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.ShutdownTimeout < 0 {
		return fmt.Errorf("service.shutdown_timeout must not be negative")
	}
	if err := checkUnresolved("service.node_id", cfg.Service.NodeID); err != nil {
		return err
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	switch cfg.JobGraph.Backend {
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("jobgraph.backend must be %q or %q (got %q)", BackendSQLite, BackendMemory, cfg.JobGraph.Backend)
	}

	switch cfg.Election.Mode {
	case ElectionStandalone:
	case ElectionLease:
		if cfg.JobGraph.Backend == BackendMemory {
			return fmt.Errorf("election.mode %q needs a shared job graph store; jobgraph.backend %q is process local", ElectionLease, BackendMemory)
		}
		if cfg.Election.LeaseDuration <= 0 || cfg.Election.RenewInterval <= 0 || cfg.Election.AcquireInterval <= 0 {
			return fmt.Errorf("election durations must be positive")
		}
		if cfg.Election.RenewInterval >= cfg.Election.LeaseDuration {
			return fmt.Errorf("election.renew_interval (%s) must be shorter than election.lease_duration (%s)",
				cfg.Election.RenewInterval, cfg.Election.LeaseDuration)
		}
	default:
		return fmt.Errorf("election.mode must be %q or %q (got %q)", ElectionStandalone, ElectionLease, cfg.Election.Mode)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth needs an api_key or at least one token when the API is enabled")
		}
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkUnresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
