// Package cli wires the PaperSync components together and drives them from
// an interactive prompt.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/papersync/papersync/internal/blobstore"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/localdb"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/netx"
	"github.com/papersync/papersync/internal/remotemeta"
	"github.com/papersync/papersync/internal/services"
	"github.com/papersync/papersync/internal/syncer"
	"github.com/papersync/papersync/internal/transfer"
)

// App holds the composed client. Everything is constructed here and passed
// down; no component keeps process-global state.
type App struct {
	config  *config.Config
	log     logging.Logger
	ident   *identity.TokenFileProvider
	docs    *services.DocumentService
	syncer  *syncer.Orchestrator
	monitor *netx.Monitor
	repos   *localdb.Repositories
	reader  *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewTextLogger(os.Stderr, slog.LevelInfo)

	repos, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	ident, err := identity.NewTokenFileProvider(cfg.TokenPath)
	if err != nil {
		repos.DB.Close()
		return nil, err
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		AccessKey:    cfg.S3Access,
		SecretKey:    cfg.S3Secret,
		BaseEndpoint: cfg.S3Endpoint,
	})
	if err != nil {
		repos.DB.Close()
		return nil, err
	}

	tr := transfer.NewFileTransfer(blobs, log, cfg.DataDir)
	meta := remotemeta.NewBlobMetaStore(blobs, repos.Documents, repos.Attachments, log)
	monitor := netx.NewMonitor(netx.TCPProbe(cfg.ProbeAddr), cfg.OnlineCheckInterval, log)

	orch := syncer.New(repos.Documents, repos.Attachments, tr, ident, log, syncer.Options{
		Meta:        meta,
		Conn:        monitor,
		SyncEnabled: func() bool { return cfg.SyncEnabled },
	})

	docs := services.NewDocumentService(repos.Documents, repos.Attachments, tr, meta, ident, log,
		orch.OnDocumentChange)

	return &App{
		config:  cfg,
		log:     log,
		ident:   ident,
		docs:    docs,
		syncer:  orch,
		monitor: monitor,
		repos:   repos,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background watchers, performs the launch sync, and enters
// the prompt loop until EOF or exit.
func (a *App) Run(ctx context.Context) {
	defer a.repos.DB.Close()
	defer a.syncer.Close()

	go a.monitor.Run(ctx)
	go a.syncer.Watch(ctx)

	a.syncer.SyncOnAppLaunch(ctx)
	a.Root(ctx)
}
