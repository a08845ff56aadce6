// Package config loads the gateway configuration from a YAML file,
// environment variables and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIREEDGE_"

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Engine    EngineConfig    `yaml:"engine"`
	OneFlow   OneFlowConfig   `yaml:"oneflow"`
	Support   SupportConfig   `yaml:"support"`
	Provision ProvisionConfig `yaml:"provision"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	HMACSecret          string        `yaml:"hmac_secret"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	RememberTTL         time.Duration `yaml:"remember_ttl"`
	LoginFailuresPerMin int           `yaml:"login_failures_per_min"`
	PruneInterval       time.Duration `yaml:"prune_interval"`
}

// EngineConfig points at the XML-RPC orchestration engine.
type EngineConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OneFlowConfig points at the service orchestration REST API.
type OneFlowConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
}

// SupportConfig points at the ticketing REST API.
type SupportConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ProvisionConfig controls the provisioning CLI wrapper.
type ProvisionConfig struct {
	Command         string        `yaml:"command"`
	ProviderCommand string        `yaml:"provider_command"`
	LogDir          string        `yaml:"log_dir"`
	MappingFile     string        `yaml:"mapping_file"`
	MaxConcurrent   int64         `yaml:"max_concurrent"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	StopGrace       time.Duration `yaml:"stop_grace"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for every key the file and
// environment leave unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":2616",
			RateLimitRPS:    100,
			RateLimitBurst:  200,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "./fireedge.db"},
		Auth: AuthConfig{
			SessionTTL:          3 * time.Hour,
			RememberTTL:         30 * 24 * time.Hour,
			LoginFailuresPerMin: 10,
			PruneInterval:       10 * time.Minute,
		},
		Engine: EngineConfig{
			Endpoint: "http://localhost:2633/RPC2",
			Timeout:  30 * time.Second,
		},
		OneFlow: OneFlowConfig{
			Endpoint:     "http://localhost:2474",
			Timeout:      30 * time.Second,
			RetryMax:     2,
			RetryWaitMin: 500 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
		},
		Support: SupportConfig{
			Endpoint: "https://support.opennebula.pro",
			Timeout:  30 * time.Second,
		},
		Provision: ProvisionConfig{
			Command:         "oneprovision",
			ProviderCommand: "oneprovider",
			LogDir:          "/var/log/one/provision",
			MappingFile:     "/var/lib/one/fireedge/provision-mapping.yml",
			MaxConcurrent:   4,
			JobTimeout:      2 * time.Hour,
			SyncTimeout:     2 * time.Minute,
			StopGrace:       10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then FIREEDGE_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	str("LISTEN", &c.Server.Listen)
	str("DB_PATH", &c.Database.Path)
	str("HMAC_SECRET", &c.Auth.HMACSecret)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("ENGINE_ENDPOINT", &c.Engine.Endpoint)
	str("ONEFLOW_ENDPOINT", &c.OneFlow.Endpoint)
	str("SUPPORT_ENDPOINT", &c.Support.Endpoint)
	str("PROVISION_COMMAND", &c.Provision.Command)
	str("PROVIDER_COMMAND", &c.Provision.ProviderCommand)
	str("PROVISION_LOG_DIR", &c.Provision.LogDir)
	str("PROVISION_MAPPING_FILE", &c.Provision.MappingFile)

	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = SplitList(v)
	}

	if v, ok := lookup(EnvPrefix + "SUPPORT_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sSUPPORT_ENABLED: %w", EnvPrefix, err)
		}
		c.Support.Enabled = enabled
	}

	if v, ok := lookup(EnvPrefix + "PROVISION_MAX_CONCURRENT"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sPROVISION_MAX_CONCURRENT: %w", EnvPrefix, err)
		}
		c.Provision.MaxConcurrent = n
	}

	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration can run a server.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen cannot be empty"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path cannot be empty"))
	}
	if c.Auth.HMACSecret == "" {
		errs = append(errs, fmt.Errorf("auth.hmac_secret is required (set %sHMAC_SECRET)", EnvPrefix))
	} else if len(c.Auth.HMACSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.hmac_secret must be at least 32 bytes (got %d)", len(c.Auth.HMACSecret)))
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.RememberTTL <= 0 {
		errs = append(errs, errors.New("auth session TTLs must be positive"))
	}

	if err := validateEndpoint("engine.endpoint", c.Engine.Endpoint); err != nil {
		errs = append(errs, err)
	}
	if err := validateEndpoint("oneflow.endpoint", c.OneFlow.Endpoint); err != nil {
		errs = append(errs, err)
	}
	if c.Support.Enabled {
		if err := validateEndpoint("support.endpoint", c.Support.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Engine.Timeout <= 0 || c.OneFlow.Timeout <= 0 || c.Support.Timeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}
	if c.OneFlow.RetryMax < 0 {
		errs = append(errs, errors.New("oneflow.retry_max cannot be negative"))
	}

	if c.Provision.Command == "" || c.Provision.ProviderCommand == "" {
		errs = append(errs, errors.New("provision.command and provision.provider_command cannot be empty"))
	}
	if c.Provision.LogDir == "" || c.Provision.MappingFile == "" {
		errs = append(errs, errors.New("provision.log_dir and provision.mapping_file are required"))
	}
	if c.Provision.MaxConcurrent < 1 {
		errs = append(errs, errors.New("provision.max_concurrent must be at least 1"))
	}
	if c.Provision.JobTimeout <= 0 || c.Provision.SyncTimeout <= 0 || c.Provision.StopGrace <= 0 {
		errs = append(errs, errors.New("provision timeouts must be positive"))
	}

	return errors.Join(errs...)
}

func validateEndpoint(name, endpoint string) error {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("%s must start with http:// or https:// (got %q)", name, endpoint)
	}
	return nil
}
