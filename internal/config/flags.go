package config

import (
	"flag"
	"os"
	"time"

	"github.com/papersync/papersync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   sqlite database path
//	-f string   attachment data directory
//	-b string   remote store bucket
//	-e string   remote store endpoint override (MinIO etc.)
//	-p string   connectivity probe address (host:port)
//	-i int      online check interval in seconds
//
// os.Args is filtered to only the flags handled here, via flagx.FilterArgs,
// so other components can define their own flags without clashing.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-f", "-b", "-e", "-p", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "sqlite database path")
	fs.StringVar(&cfg.DataDir, "f", cfg.DataDir, "attachment data directory")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "remote store bucket")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "remote store endpoint override")
	fs.StringVar(&cfg.ProbeAddr, "p", cfg.ProbeAddr, "connectivity probe address")
	interval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*interval) * time.Second
}
