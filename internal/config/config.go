// Package config holds the frontend's typed configuration: listen
// address, router tunables (parallelism, success targets, timeouts),
// logging options and the blob-size and request-rate limits, persisted as
// YAML. It holds no cluster-map or account-directory endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/structs"
	"gopkg.in/yaml.v3"
)

// Router holds the tunables that parameterize ReplicaOperations.
type Router struct {
	DeleteParallelism int           `yaml:"delete_parallelism"`
	DeleteSuccessTarget int         `yaml:"delete_success_target"`
	GetParallelism    int           `yaml:"get_parallelism"`
	GetSuccessTarget  int           `yaml:"get_success_target"`
	PutParallelism    int           `yaml:"put_parallelism"`
	PutSuccessTarget  int           `yaml:"put_success_target"`
	OperationTimeout  time.Duration `yaml:"operation_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// DefaultRouter returns the tunables used when none are configured.
func DefaultRouter() Router {
	return Router{
		DeleteParallelism:   3,
		DeleteSuccessTarget: 2,
		GetParallelism:      2,
		GetSuccessTarget:    1,
		PutParallelism:      3,
		PutSuccessTarget:    2,
		OperationTimeout:    10 * time.Second,
		RequestTimeout:      2 * time.Second,
		PollInterval:        5 * time.Millisecond,
	}
}

// Config is the top-level typed configuration for the frontend process.
type Config struct {
	Addr        string `yaml:"addr"`
	ConfigDir   string `yaml:"-"`
	Router      Router `yaml:"router"`
	JSONLogs    bool   `yaml:"json_logs"`
	LogLevel    string `yaml:"log_level"`
	MaxBlobSize int64  `yaml:"max_blob_size"`
	MaxRPS      float64 `yaml:"max_rps"`
}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		Addr:        ":1174",
		Router:      DefaultRouter(),
		JSONLogs:    false,
		LogLevel:    "info",
		MaxBlobSize: 4 << 30, // 4GiB
		MaxRPS:      0,       // 0 disables the inbound rate limiter
	}
}

// Load reads a YAML config file at path. A missing file is not an
// error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists cfg as YAML to path.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Flatten renders cfg as a map of field name to value, used to log the
// effective configuration at startup.
func Flatten(cfg Config) map[string]interface{} {
	return structs.Map(cfg)
}
