package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitwit/x402-deferred/types"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Verifier  VerifierConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig
	Chain     ChainConfig

	// Networks lists additional escrow deployments (config file only).
	Networks []ChainConfig `mapstructure:"networks"`
}

type ServerConfig struct {
	Port               int `mapstructure:"port"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type VerifierConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// ChainConfig is one escrow deployment to verify against.
type ChainConfig struct {
	Network       string `mapstructure:"network"`
	RPCURL        string `mapstructure:"rpc_url"`
	EscrowAddress string `mapstructure:"escrow_address"`
	DomainName    string `mapstructure:"domain_name"`
	DomainVersion string `mapstructure:"domain_version"`
}

// Load reads defaults, an optional config.yaml from paths (or "." and
// "/etc/x402-deferred"), then environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_sec", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("verifier.timeout_sec", 30)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("telemetry.service_name", "x402-deferred-facilitator")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "/etc/x402-deferred"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "PORT",
		"server.shutdown_timeout_sec": "SHUTDOWN_TIMEOUT_SEC",
		"log.level":                   "LOG_LEVEL",
		"log.format":                  "LOG_FORMAT",
		"verifier.timeout_sec":        "VERIFY_TIMEOUT_SEC",
		"metrics.enabled":             "METRICS_ENABLED",
		"telemetry.endpoint":          "OTEL_ENDPOINT",
		"telemetry.service_name":      "OTEL_SERVICE_NAME",
		"chain.network":               "NETWORK",
		"chain.rpc_url":               "RPC_URL",
		"chain.escrow_address":        "ESCROW_ADDRESS",
		"chain.domain_name":           "DOMAIN_NAME",
		"chain.domain_version":        "DOMAIN_VERSION",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

// Deployments returns the primary chain followed by any extra networks.
func (c *Config) Deployments() []ChainConfig {
	out := make([]ChainConfig, 0, len(c.Networks)+1)
	if c.Chain.Network != "" {
		out = append(out, c.Chain)
	}
	return append(out, c.Networks...)
}

// X402Config converts the loaded file into the library configuration.
func (c *Config) X402Config() *types.X402Config {
	clients := make(map[types.Network]types.ClientConfig)
	for _, d := range c.Deployments() {
		network := types.Network(d.Network)
		clients[network] = types.ClientConfig{
			Network:       network,
			RPCUrl:        d.RPCURL,
			EscrowAddress: d.EscrowAddress,
			DomainName:    d.DomainName,
			DomainVersion: d.DomainVersion,
		}
	}

	return &types.X402Config{
		DefaultTimeout: time.Duration(c.Verifier.TimeoutSec) * time.Second,
		Clients:        clients,
		LogLevel:       c.Log.Level,
		EnableMetrics:  c.Metrics.Enabled,
	}
}

func (c *Config) validate() error {
	deployments := c.Deployments()
	if len(deployments) == 0 {
		return fmt.Errorf("required config missing: NETWORK")
	}

	seen := make(map[string]bool)
	for _, d := range deployments {
		if d.EscrowAddress == "" {
			return fmt.Errorf("required config missing: ESCROW_ADDRESS for network %s", d.Network)
		}
		if seen[d.Network] {
			return fmt.Errorf("network %s configured twice", d.Network)
		}
		seen[d.Network] = true
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid PORT: %d", c.Server.Port)
	}
	if c.Verifier.TimeoutSec < 0 {
		return fmt.Errorf("invalid VERIFY_TIMEOUT_SEC: %d", c.Verifier.TimeoutSec)
	}
	return nil
}
