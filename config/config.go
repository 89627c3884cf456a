package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the vbmsd runtime configuration, loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	HistoryDBPath string `toml:"HistoryDBPath"`
	DenyListPath  string `toml:"DenyListPath"`
	Environment   string `toml:"Environment"`

	Auth      AuthConfig      `toml:"Auth"`
	RateLimit RateLimitConfig `toml:"RateLimit"`
	Claims    ClaimsConfig    `toml:"Claims"`
	Signer    SignerConfig    `toml:"Signer"`
	Oracle    OracleConfig    `toml:"Oracle"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// AuthConfig carries the bearer credential settings for mutating routes.
type AuthConfig struct {
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
	Audience     string `toml:"Audience"`
}

// RateLimitConfig tunes the per-client gateway limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// ClaimsConfig carries the conversion guardrails. Amounts are whole VBMS
// units expressed as decimal strings so operators can exceed int64 if the
// economy ever needs it.
type ClaimsConfig struct {
	MinimumClaim          string `toml:"MinimumClaim"`
	MaximumClaim          string `toml:"MaximumClaim"`
	CooldownSeconds       int64  `toml:"CooldownSeconds"`
	RecoveryWindowSeconds int64  `toml:"RecoveryWindowSeconds"`
	DailyRecoveryLimit    uint32 `toml:"DailyRecoveryLimit"`
}

// SignerConfig points at the external signing service.
type SignerConfig struct {
	Endpoint       string `toml:"Endpoint"`
	BearerToken    string `toml:"BearerToken"`
	BearerTokenEnv string `toml:"BearerTokenEnv"`
	TimeoutSeconds int64  `toml:"TimeoutSeconds"`
}

// OracleConfig points at the chain RPC endpoint and claim contract.
type OracleConfig struct {
	RPCEndpoint     string `toml:"RPCEndpoint"`
	ContractAddress string `toml:"ContractAddress"`
	TimeoutSeconds  int64  `toml:"TimeoutSeconds"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load reads, defaults, and validates the configuration at path. A missing
// file yields the defaults so local development needs no config at all.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		if _, err := os.Stat(trimmed); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if _, err := toml.DecodeFile(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", trimmed, err)
		}
	}
	applyDefaults(cfg)
	resolveSecrets(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8551"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vbmsd-data"
	}
	if strings.TrimSpace(cfg.HistoryDBPath) == "" {
		cfg.HistoryDBPath = filepath.Join(cfg.DataDir, "history.db")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if strings.TrimSpace(cfg.Claims.MinimumClaim) == "" {
		cfg.Claims.MinimumClaim = "100"
	}
	if strings.TrimSpace(cfg.Claims.MaximumClaim) == "" {
		cfg.Claims.MaximumClaim = "500000"
	}
	if cfg.Claims.CooldownSeconds <= 0 {
		cfg.Claims.CooldownSeconds = 180
	}
	if cfg.Claims.RecoveryWindowSeconds <= 0 {
		cfg.Claims.RecoveryWindowSeconds = 30
	}
	if cfg.Claims.DailyRecoveryLimit == 0 {
		cfg.Claims.DailyRecoveryLimit = 3
	}
	if cfg.Signer.TimeoutSeconds <= 0 {
		cfg.Signer.TimeoutSeconds = 15
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 10
	}
}

// resolveSecrets prefers environment indirection over inline credentials so
// config files can be committed without secrets.
func resolveSecrets(cfg *Config) {
	if env := strings.TrimSpace(cfg.Auth.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			cfg.Auth.JWTSecret = value
		}
	}
	if env := strings.TrimSpace(cfg.Signer.BearerTokenEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			cfg.Signer.BearerToken = value
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Signer.Endpoint) != "" {
		if !strings.HasPrefix(cfg.Signer.Endpoint, "http://") && !strings.HasPrefix(cfg.Signer.Endpoint, "https://") {
			return fmt.Errorf("config: signer endpoint must be an http(s) URL")
		}
	}
	if strings.TrimSpace(cfg.Oracle.RPCEndpoint) != "" && strings.TrimSpace(cfg.Oracle.ContractAddress) == "" {
		return fmt.Errorf("config: oracle contract address required when an RPC endpoint is set")
	}
	if cfg.RateLimit.Burst > cfg.RateLimit.RequestsPerMinute {
		return fmt.Errorf("config: rate limit burst %d exceeds requests per minute %d", cfg.RateLimit.Burst, cfg.RateLimit.RequestsPerMinute)
	}
	return nil
}

// SignerTimeout returns the signer timeout as a duration.
func (c *Config) SignerTimeout() time.Duration {
	return time.Duration(c.Signer.TimeoutSeconds) * time.Second
}

// OracleTimeout returns the oracle timeout as a duration.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}
