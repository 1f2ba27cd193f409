// Package config loads dispatcher and server settings from a YAML file with
// environment overrides, and resolves the service address once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in the transport key.
const (
	TransportHTTP   = "http"
	TransportScript = "script"
	TransportFetch  = "fetch"
)

// RateLimit bounds how many calls the dispatcher issues per second.
// A zero RPS disables the limiter.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Etcd points at the key holding the service address.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	Key         string        `yaml:"key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Enabled reports whether an etcd lookup was configured.
func (e Etcd) Enabled() bool {
	return len(e.Endpoints) > 0 && e.Key != ""
}

// Config is the bobo.yaml layout. Fields missing from the file keep their Default values.
type Config struct {
	ServiceURL     string        `yaml:"service_url"`
	Transport      string        `yaml:"transport"`
	RPCPath        string        `yaml:"rpc_path"`
	DataPath       string        `yaml:"data_path"`
	ScriptTimeout  time.Duration `yaml:"script_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	LogLevel       string        `yaml:"log_level"`
	Listen         string        `yaml:"listen"`
	Etcd           Etcd          `yaml:"etcd"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Transport:      TransportHTTP,
		RPCPath:        "/rpc",
		DataPath:       "/json",
		ScriptTimeout:  time.Second,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		Listen:         ":8080",
		Etcd: Etcd{
			Key:         "/bobo-rpc/service_url",
			DialTimeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOBO_SERVICE_URL"); v != "" {
		c.ServiceURL = v
	}
	if v := os.Getenv("BOBO_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("BOBO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportScript, TransportFetch:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("config: script_timeout must be positive, got %s", c.ScriptTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	for key, path := range map[string]string{"rpc_path": c.RPCPath, "data_path": c.DataPath} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("config: %s must start with /, got %q", key, path)
		}
	}
	if c.RPCPath == c.DataPath {
		return errors.New("config: rpc_path and data_path must differ")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// RPCAddress joins the service base with the JSON-RPC path.
func (c *Config) RPCAddress(base string) string {
	return joinPath(base, c.RPCPath)
}

// DataAddress joins the service base with the padded data path.
func (c *Config) DataAddress(base string) string {
	return joinPath(base, c.DataPath)
}

func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// ParseLevel maps a log_level value onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}
