// Package config loads ArtifactStore server configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ARTIFACTSTORE_"

// Config holds server configuration. Precedence: defaults, YAML file,
// environment, then command-line flags applied by the caller.
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Lease   LeaseConfig   `yaml:"lease" envPrefix:"LEASE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig configures the network listeners
type ServerConfig struct {
	GrpcPort    int `yaml:"grpc_port" env:"GRPC_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
}

// StorageConfig configures the embedded database
type StorageConfig struct {
	DataDir    string        `yaml:"data_dir" env:"DATA_DIR"`
	InMemory   bool          `yaml:"in_memory" env:"IN_MEMORY"`
	SyncWrites bool          `yaml:"sync_writes" env:"SYNC_WRITES"`
	GCInterval time.Duration `yaml:"gc_interval" env:"GC_INTERVAL"`
	CacheSize  int           `yaml:"cache_size" env:"CACHE_SIZE"`
}

// LeaseConfig configures edit leases
type LeaseConfig struct {
	DefaultTTLMinutes int `yaml:"default_ttl_minutes" env:"DEFAULT_TTL_MINUTES"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			GrpcPort:    50051,
			MetricsPort: 9090,
		},
		Storage: StorageConfig{
			DataDir:    "./data",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
			CacheSize:  1024,
		},
		Lease: LeaseConfig{DefaultTTLMinutes: 15},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds a configuration from defaults, the optional YAML file at
// path and ARTIFACTSTORE_* environment variables
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting
func (c Config) Validate() error {
	var errs []error

	if !validPort(c.Server.GrpcPort) {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GrpcPort))
	}
	if !validPort(c.Server.MetricsPort) {
		errs = append(errs, fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if c.Server.GrpcPort == c.Server.MetricsPort {
		errs = append(errs, errors.New("server.grpc_port and server.metrics_port must differ"))
	}
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required unless storage.in_memory is set"))
	}
	if c.Storage.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.cache_size must be positive, got %d", c.Storage.CacheSize))
	}
	if c.Storage.GCInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.gc_interval must not be negative, got %s", c.Storage.GCInterval))
	}
	if c.Lease.DefaultTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("lease.default_ttl_minutes must be positive, got %d", c.Lease.DefaultTTLMinutes))
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}

// DefaultLeaseTTL returns the default lease duration
func (c Config) DefaultLeaseTTL() time.Duration {
	return time.Duration(c.Lease.DefaultTTLMinutes) * time.Minute
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
