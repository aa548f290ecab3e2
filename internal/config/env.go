package config

import (
	"os"
	"strconv"
)

// FromEnv overlays MQD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MQD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MQD_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("MQD_PAGE_CAPACITY"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Queue.PageCapacity = uint32(n)
		}
	}
	if v := os.Getenv("MQD_MAX_TEMPORARY_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Queue.MaxTemporaryRetries = uint32(n)
		}
	}
	if v := os.Getenv("MQD_TURN_MESSAGE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.TurnMessageCap = n
		}
	}
	if v := os.Getenv("MQD_SERVICE_WEIGHT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Queue.ServiceWeight = n
		}
	}
	if v := os.Getenv("MQD_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MQD_HTTP_ENQUEUE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HTTP.EnqueueRate = f
		}
	}
	if v := os.Getenv("MQD_HTTP_ENQUEUE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.EnqueueBurst = n
		}
	}
	if v := os.Getenv("MQD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MQD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
