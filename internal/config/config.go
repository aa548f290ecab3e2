package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir string      `json:"dataDir" yaml:"dataDir"`
	Fsync   string      `json:"fsync" yaml:"fsync"`
	Queue   QueueConfig `json:"queue" yaml:"queue"`
	HTTP    HTTPConfig  `json:"http" yaml:"http"`
	Log     log.Config  `json:"log" yaml:"log"`
}

// QueueConfig captures the processing engine's bounds.
type QueueConfig struct {
	// PageCapacity bounds payload bytes per storage page.
	PageCapacity uint32 `json:"pageCapacity" yaml:"pageCapacity"`
	// MaxTemporaryRetries bounds in-place retries of a failing message.
	MaxTemporaryRetries uint32 `json:"maxTemporaryRetries" yaml:"maxTemporaryRetries"`
	// TurnMessageCap limits messages per origin turn; 0 serves to the
	// page boundary.
	TurnMessageCap int `json:"turnMessageCap" yaml:"turnMessageCap"`
	// ServiceWeight is the default weight budget per service call.
	ServiceWeight uint64 `json:"serviceWeight" yaml:"serviceWeight"`
}

// HTTPConfig configures the admin/API listener.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	// EnqueueRate throttles enqueue requests per second; 0 disables the
	// limiter. EnqueueBurst is the limiter's burst allowance.
	EnqueueRate  float64 `json:"enqueueRate" yaml:"enqueueRate"`
	EnqueueBurst int     `json:"enqueueBurst" yaml:"enqueueBurst"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Fsync:   "interval",
		Queue: QueueConfig{
			PageCapacity:        64 << 10,
			MaxTemporaryRetries: 3,
			ServiceWeight:       1 << 20,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			EnqueueBurst: 64,
		},
		Log: log.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
