// Package config provides loading and environment overlay for mqd
// configuration. It exposes a Default() baseline, file loading for JSON
// and YAML, and an MQD_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/mqd.yaml")
//	if err != nil {
//	    cfg = config.Default()
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.FromConfig(cfg))
//	defer rt.Close()
package config
