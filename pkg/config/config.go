/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads process configuration for cmd/pendingcat using
// a layered koanf setup (YAML file, then environment overrides),
// grounded on tomtom215-cartographus's koanf file+env+yaml provider
// composition. It governs only the demo host and CLI, never the core
// state machine's semantics.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config is the CLI/demo host's configuration surface.
type Config struct {
	LogLevel       string  `koanf:"log_level"`
	TransportURL   string  `koanf:"transport_url"`
	Compress       bool    `koanf:"compress"`
	ResubmitRate   float64 `koanf:"resubmit_rate_per_second"`
	ResubmitBurst  int     `koanf:"resubmit_burst"`
	DebugServeAddr string  `koanf:"debug_serve_addr"`
}

// Default returns the configuration used when no file is present and
// no environment overrides are set.
func Default() Config {
	return Config{
		LogLevel:       "info",
		TransportURL:   "",
		Compress:       true,
		ResubmitRate:   50,
		ResubmitBurst:  10,
		DebugServeAddr: "127.0.0.1:8088",
	}
}

// Load reads path (if non-empty; a missing file is an error) as YAML, then applies
// FLUIDCORE_-prefixed environment variable overrides on top, starting
// from Default().
func Load(path string) (Config, error) {
	k := koanf.New(".")

	def := Default()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return Config{}, errors.WithMessage(err, "could not load default config")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.WithMessagef(err, "could not load config file %q", path)
		}
	}

	if err := k.Load(env.Provider("FLUIDCORE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "FLUIDCORE_"))
	}), nil); err != nil {
		return Config{}, errors.WithMessage(err, "could not load environment overrides")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.WithMessage(err, "could not unmarshal config")
	}
	return cfg, nil
}
