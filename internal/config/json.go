package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/papersync/papersync/internal/flagx"
	"github.com/papersync/papersync/internal/timex"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be written "3s" or as integer nanoseconds.
type jsonConfig struct {
	DatabasePath        *string         `json:"database_path"`
	DataDir             *string         `json:"data_dir"`
	TokenPath           *string         `json:"token_path"`
	S3Region            *string         `json:"s3_region"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Access            *string         `json:"s3_access_key"`
	S3Secret            *string         `json:"s3_secret_key"`
	S3Endpoint          *string         `json:"s3_endpoint"`
	ProbeAddr           *string         `json:"probe_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	SyncEnabled         *bool           `json:"sync_enabled"`
}

// parseJSON overlays cfg with values from the file named by -c/-config.
// Absent flag means no JSON source; fields left out of the file keep their
// earlier values.
func parseJSON(cfg *Config) error {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setIf(&cfg.DatabasePath, jc.DatabasePath)
	setIf(&cfg.DataDir, jc.DataDir)
	setIf(&cfg.TokenPath, jc.TokenPath)
	setIf(&cfg.S3Region, jc.S3Region)
	setIf(&cfg.S3Bucket, jc.S3Bucket)
	setIf(&cfg.S3Access, jc.S3Access)
	setIf(&cfg.S3Secret, jc.S3Secret)
	setIf(&cfg.S3Endpoint, jc.S3Endpoint)
	setIf(&cfg.ProbeAddr, jc.ProbeAddr)
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.SyncEnabled != nil {
		cfg.SyncEnabled = *jc.SyncEnabled
	}
	return nil
}

func setIf(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
