// Package config provides loading and environment overlay for keel runtime
// configuration. It exposes a Default() baseline, Load() for JSON or YAML
// files, and FromEnv() to overlay KEEL_* variables.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/keel.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
