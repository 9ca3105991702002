// Package config loads gateway and router configuration from the
// environment, grounded in the same caarlos0/env + godotenv pattern the
// original single-process server used.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_poc/internal/logging"
)

// GatewayConfig holds everything a single gateway process needs to boot.
type GatewayConfig struct {
	Addr string `env:"GATEWAY_ADDR" envDefault:":8080"`

	GatewayID string `env:"GATEWAY_ID,required"`

	JWTSecret         string `env:"JWT_SECRET,required"`
	JWTPreviousSecret string `env:"JWT_PREVIOUS_SECRET" envDefault:""`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	MaxBufferBytes int `env:"MAX_BUFFER_BYTES" envDefault:"0"`

	S3Endpoint  string `env:"S3_ENDPOINT" envDefault:""`
	S3Bucket    string `env:"S3_BUCKET" envDefault:""`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY" envDefault:""`
	S3SecretKey string `env:"S3_SECRET_KEY" envDefault:""`
	S3UseSSL    bool   `env:"S3_USE_SSL" envDefault:"true"`

	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// RouterConfig holds everything the sharding router process needs to boot.
// It carries no buffer/object-store settings of its own: those belong to
// the gateways it fans requests out to.
type RouterConfig struct {
	Addr string `env:"ROUTER_ADDR" envDefault:":8090"`

	JWTSecret         string `env:"JWT_SECRET,required"`
	JWTPreviousSecret string `env:"JWT_PREVIOUS_SECRET" envDefault:""`

	ShardConfigJSON string `env:"SHARD_CONFIG,required"`

	// GatewayAddressesJSON maps a gatewayId to the base URL of the
	// gateway instance that owns it, e.g. {"gw-a":"http://gw-a:8080"}.
	// A gatewayId missing from this map resolves via
	// GatewayAddrTemplate instead.
	GatewayAddressesJSON string `env:"GATEWAY_ADDRESSES" envDefault:"{}"`

	// GatewayAddrTemplate is an fmt.Sprintf template (one %s, the
	// gatewayId) used for any gatewayId not named in GATEWAY_ADDRESSES,
	// matching a DNS-per-shard deployment convention.
	GatewayAddrTemplate string `env:"GATEWAY_ADDR_TEMPLATE" envDefault:"http://%s:8080"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// loadEnvFile loads an optional .env file. Its absence is not an error:
// production deployments set real environment variables directly.
func loadEnvFile(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

// LoadGateway reads GatewayConfig from .env and the environment, validates
// it, and returns it. logger may be nil during early bootstrap before a
// real logger exists.
func LoadGateway(logger *zerolog.Logger) (*GatewayConfig, error) {
	loadEnvFile(logger)

	cfg := &GatewayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadRouter reads RouterConfig from .env and the environment, validates
// it, and returns it.
func LoadRouter(logger *zerolog.Logger) (*RouterConfig, error) {
	loadEnvFile(logger)

	cfg := &RouterConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse router config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("router config validation failed: %w", err)
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "pretty": true}

// Validate checks the gateway configuration for errors LoadGateway can't
// catch by parsing alone: range checks, enum checks, and S3_ENDPOINT
// plus S3_BUCKET being present once any S3_* field is set (the access
// and secret keys stay optional).
func (c *GatewayConfig) Validate() error {
	if c.GatewayID == "" {
		return fmt.Errorf("GATEWAY_ID is required")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	if c.MaxBufferBytes < 0 {
		return fmt.Errorf("MAX_BUFFER_BYTES must be >= 0, got %d", c.MaxBufferBytes)
	}
	if c.usesObjectStore() && (c.S3Endpoint == "" || c.S3Bucket == "") {
		return fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required when any S3_* credential is set")
	}
	return nil
}

// usesObjectStore reports whether any S3 field was set, meaning the
// gateway should dial a real bucket rather than fall back to an
// in-memory store.
func (c *GatewayConfig) usesObjectStore() bool {
	return c.S3Endpoint != "" || c.S3Bucket != "" || c.S3AccessKey != "" || c.S3SecretKey != ""
}

// UsesObjectStore reports whether this config names a real S3-compatible
// bucket to flush to, versus running with an in-memory store.
func (c *GatewayConfig) UsesObjectStore() bool { return c.usesObjectStore() }

// Validate checks the router configuration for errors.
func (c *RouterConfig) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	if strings.TrimSpace(c.ShardConfigJSON) == "" {
		return fmt.Errorf("SHARD_CONFIG is required")
	}
	if _, err := c.GatewayAddresses(); err != nil {
		return fmt.Errorf("GATEWAY_ADDRESSES: %w", err)
	}
	return nil
}

// GatewayAddresses decodes GatewayAddressesJSON into a gatewayId->URL map.
func (c *RouterConfig) GatewayAddresses() (map[string]string, error) {
	addrs := make(map[string]string)
	raw := strings.TrimSpace(c.GatewayAddressesJSON)
	if raw == "" {
		return addrs, nil
	}
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return addrs, nil
}

// Resolver builds the shard.AddressResolver this config describes: an
// explicit gatewayId->URL override, falling back to GatewayAddrTemplate.
func (c *RouterConfig) Resolver() (func(gatewayID string) string, error) {
	addrs, err := c.GatewayAddresses()
	if err != nil {
		return nil, err
	}
	return func(gatewayID string) string {
		if addr, ok := addrs[gatewayID]; ok {
			return addr
		}
		return fmt.Sprintf(c.GatewayAddrTemplate, gatewayID)
	}, nil
}

// LogConfig logs the gateway's configuration via structured logging,
// omitting secrets (JWT and S3 credentials).
func (c *GatewayConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("gateway_id", c.GatewayID).
		Bool("object_store", c.usesObjectStore()).
		Int("max_buffer_bytes_override", c.MaxBufferBytes).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("gateway configuration loaded")
}

// LogConfig logs the router's configuration via structured logging.
func (c *RouterConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("router configuration loaded")
}

// LoggingConfig adapts a GatewayConfig into the logging package's Config.
func (c *GatewayConfig) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   logging.Level(c.LogLevel),
		Format:  logging.Format(c.LogFormat),
		Service: "gateway",
	}
}

// LoggingConfig adapts a RouterConfig into the logging package's Config.
func (c *RouterConfig) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   logging.Level(c.LogLevel),
		Format:  logging.Format(c.LogFormat),
		Service: "router",
	}
}
