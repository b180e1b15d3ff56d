// Package config assembles runtime settings from defaults, an optional JSON
// file, environment variables and command-line flags, in that order. Later
// sources win.
package config

import "time"

// Config holds the runtime settings for the PaperSync client.
type Config struct {
	// DatabasePath is the sqlite file holding document metadata.
	DatabasePath string `env:"PAPERSYNC_DB"`

	// DataDir receives downloaded attachment bytes.
	DataDir string `env:"PAPERSYNC_DATA_DIR"`

	// TokenPath is the cached credential token written by `login`.
	TokenPath string `env:"PAPERSYNC_TOKEN"`

	// Remote blob store settings. Endpoint is empty for AWS proper and set
	// for MinIO or another S3-compatible store.
	S3Region   string `env:"PAPERSYNC_S3_REGION"`
	S3Bucket   string `env:"PAPERSYNC_S3_BUCKET"`
	S3Access   string `env:"PAPERSYNC_S3_ACCESS_KEY"`
	S3Secret   string `env:"PAPERSYNC_S3_SECRET_KEY"`
	S3Endpoint string `env:"PAPERSYNC_S3_ENDPOINT"`

	// ProbeAddr is the host:port the connectivity monitor dials.
	ProbeAddr string `env:"PAPERSYNC_PROBE_ADDR"`

	// OnlineCheckInterval is how often the monitor probes.
	OnlineCheckInterval time.Duration `env:"PAPERSYNC_ONLINE_CHECK_INTERVAL"`

	// SyncEnabled is the account capability gate.
	SyncEnabled bool `env:"PAPERSYNC_SYNC_ENABLED"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "papersync.db"
	c.DataDir = "files"
	c.TokenPath = ".papersync-token"
	c.S3Region = "us-east-1"
	c.S3Bucket = "papersync"
	c.ProbeAddr = "s3.amazonaws.com:443"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncEnabled = true
}

// LoadConfig constructs a Config, applies defaults, then overlays JSON,
// environment and flags. Later sources take precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	return cfg, nil
}
