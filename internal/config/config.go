package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	PipelineConfig
	StoreConfig
	TelemetryConfig
	TokenConfig
}

type mainConfig struct {
	EnvVars
	Pipeline
	Store
	Telemetry
	Tokens
}

// New loads every configuration section from the environment.
func New() (Config, error) {
	c := mainConfig{}
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// Defaults returns a configuration with every field at its default value,
// ignoring the environment.
func Defaults() Config {
	c := mainConfig{}
	_ = env.ParseWithOptions(&c, env.Options{Environment: map[string]string{}})
	return c
}
