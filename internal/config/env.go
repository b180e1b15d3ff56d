package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// parseEnv overlays cfg with PAPERSYNC_* environment variables. Unset
// variables leave the current values untouched.
func parseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}
