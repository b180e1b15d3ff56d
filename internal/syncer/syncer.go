// Package syncer contains the synchronization orchestrator: it decides which
// documents need bytes moved, in which direction, drives the sync state
// machine, and exposes the manual, debounced and lifecycle triggers.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/models"
	"github.com/papersync/papersync/internal/remotemeta"
	"github.com/papersync/papersync/internal/repositories/attachments"
	"github.com/papersync/papersync/internal/repositories/documents"
	"github.com/papersync/papersync/internal/transfer"
)

const (
	// DebounceMutation delays sync after a local document change so bursts
	// of edits collapse into one run.
	DebounceMutation = 2 * time.Second

	// DebounceNetworkRestore waits a little longer after connectivity comes
	// back, letting the radio stabilize.
	DebounceNetworkRestore = 5 * time.Second
)

// Connectivity is the slice of the network monitor the orchestrator needs.
type Connectivity interface {
	IsOnline() bool
	Changes() <-chan bool
}

// Orchestrator coordinates the local store, the transfer component and the
// remote metadata mirror. Construct it with New; all collaborators are
// injected, nothing is process-global.
type Orchestrator struct {
	docs     documents.Repository
	files    attachments.Repository
	transfer transfer.Transferer
	ident    identity.Provider
	meta     remotemeta.Store
	conn     Connectivity
	log      logging.Logger

	// syncEnabled is the account capability gate, checked on every entry
	// point before anything else.
	syncEnabled func() bool

	// running is the single-flight guard: at most one sync at a time,
	// concurrent callers get ErrAlreadyInProgress.
	running sync.Mutex

	timerMu sync.Mutex
	timer   *time.Timer

	subsMu sync.Mutex
	subs   []chan models.SyncStatus
}

// Options carries the optional collaborators.
type Options struct {
	// Meta mirrors document metadata remotely; nil disables discovery of
	// documents created on other devices.
	Meta remotemeta.Store

	// Conn gates sync on connectivity; nil skips the online check.
	Conn Connectivity

	// SyncEnabled is the per-account capability gate; nil means enabled.
	SyncEnabled func() bool
}

func New(docs documents.Repository, files attachments.Repository, tr transfer.Transferer,
	ident identity.Provider, log logging.Logger, opts Options) *Orchestrator {

	enabled := opts.SyncEnabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Orchestrator{
		docs:        docs,
		files:       files,
		transfer:    tr,
		ident:       ident,
		meta:        opts.Meta,
		conn:        opts.Conn,
		log:         log.With("component", "syncer"),
		syncEnabled: enabled,
	}
}

// PerformSync runs one full sync pass: metadata pull, upload phase, download
// phase. Per-document failures land in the result; only precondition
// failures (disabled, busy, signed out, offline) return an error.
func (o *Orchestrator) PerformSync(ctx context.Context) (*models.SyncResult, error) {
	if !o.syncEnabled() {
		return nil, common.ErrSyncDisabled
	}
	if !o.running.TryLock() {
		return nil, common.ErrAlreadyInProgress
	}
	defer o.running.Unlock()

	if !o.ident.IsAuthenticated() {
		return nil, common.ErrNotAuthenticated
	}
	if o.conn != nil && !o.conn.IsOnline() {
		return nil, common.ErrOffline
	}

	ident, err := o.ident.CurrentIdentity()
	if err != nil {
		return nil, err
	}

	o.emit(models.StatusSyncing)
	o.log.Info(ctx, "sync started")

	if o.meta != nil {
		if n, err := o.meta.Pull(ctx, ident); err != nil {
			// Discovery failure is not fatal; local pending work can still move.
			o.log.Error(ctx, "metadata pull failed", "error", err)
		} else if n > 0 {
			o.log.Info(ctx, "discovered remote documents", "count", n)
		}
	}

	result := &models.SyncResult{}
	failed := make(map[string]bool)

	o.uploadPhase(ctx, ident, result, failed)
	o.downloadPhase(ctx, ident, result, failed)

	if len(result.Errors) > 0 {
		o.emit(models.StatusError)
	} else {
		o.emit(models.StatusCompleted)
	}
	o.emit(models.StatusIdle)

	o.log.Info(ctx, "sync finished",
		"uploaded", result.Uploaded, "downloaded", result.Downloaded, "errors", len(result.Errors))
	return result, nil
}

// uploadPhase pushes every document in pending_upload or error state. Each
// document is processed to completion or marked error; one bad document
// never halts the phase.
func (o *Orchestrator) uploadPhase(ctx context.Context, ident string, result *models.SyncResult, failed map[string]bool) {
	docs, err := o.docs.GetByStates(ctx, models.StatePendingUpload, models.StateError)
	if err != nil {
		o.log.Error(ctx, "failed to query upload candidates", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("upload phase: %v", err))
		return
	}

	for _, doc := range docs {
		// An error document whose attachments only miss local bytes has
		// nothing to push; the download phase retries it and counts it once.
		if doc.SyncState == models.StateError && !hasUploadWork(doc) {
			continue
		}
		if err := o.uploadDocument(ctx, ident, doc); err != nil {
			o.log.Error(ctx, "document upload failed", "sync_id", doc.SyncID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.SyncID, err))
			failed[doc.SyncID] = true
			continue
		}
		result.Uploaded++
	}
}

// hasUploadWork reports whether the upload phase owns doc: any attachment
// with local bytes not yet pushed, or a document with no attachments whose
// metadata record still needs to go out.
func hasUploadWork(doc *models.Document) bool {
	if len(doc.Attachments) == 0 {
		return true
	}
	for _, a := range doc.Attachments {
		if a.NeedsUpload() {
			return true
		}
	}
	return false
}

// uploadDocument moves one document's pending attachments up, persisting
// each storage key as soon as the upload returns so partial progress
// survives a crash mid-loop.
func (o *Orchestrator) uploadDocument(ctx context.Context, ident string, doc *models.Document) error {
	if err := o.docs.UpdateState(ctx, doc.SyncID, models.StateUploading); err != nil {
		return err
	}

	for i := range doc.Attachments {
		a := &doc.Attachments[i]
		if !a.NeedsUpload() {
			continue
		}

		key, err := o.transfer.Upload(ctx, a.LocalPath, a.SyncID, a.FileName, ident)
		if err != nil {
			if stErr := o.docs.UpdateState(ctx, doc.SyncID, models.StateError); stErr != nil {
				o.log.Error(ctx, "failed to record error state", "sync_id", doc.SyncID, "error", stErr)
			}
			return err
		}

		if err := o.files.SetStorageKey(ctx, a.SyncID, a.FileName, key); err != nil {
			if stErr := o.docs.UpdateState(ctx, doc.SyncID, models.StateError); stErr != nil {
				o.log.Error(ctx, "failed to record error state", "sync_id", doc.SyncID, "error", stErr)
			}
			return err
		}
		a.StorageKey = key
	}

	// The state write happens after every transfer result is known.
	next := models.StateSynced
	for _, a := range doc.Attachments {
		if a.NeedsDownload() {
			next = models.StatePendingDownload
			break
		}
	}
	if err := o.docs.UpdateState(ctx, doc.SyncID, next); err != nil {
		return err
	}
	doc.SyncState = next

	if o.meta != nil {
		if err := o.meta.Push(ctx, ident, doc); err != nil {
			// The bytes are safe; the record will be re-pushed next run.
			o.log.Warn(ctx, "metadata push failed", "sync_id", doc.SyncID, "error", err)
		}
	}
	return nil
}

// downloadPhase fetches missing bytes for documents known from remote
// metadata. Documents that already failed this run are skipped.
func (o *Orchestrator) downloadPhase(ctx context.Context, ident string, result *models.SyncResult, failed map[string]bool) {
	docs, err := o.docs.GetDownloadCandidates(ctx)
	if err != nil {
		o.log.Error(ctx, "failed to query download candidates", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("download phase: %v", err))
		return
	}

	for _, doc := range docs {
		if failed[doc.SyncID] {
			continue
		}
		if err := o.downloadDocument(ctx, ident, doc); err != nil {
			o.log.Error(ctx, "document download failed", "sync_id", doc.SyncID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.SyncID, err))
			failed[doc.SyncID] = true
			continue
		}
		result.Downloaded++
	}
}

func (o *Orchestrator) downloadDocument(ctx context.Context, ident string, doc *models.Document) error {
	if err := o.docs.UpdateState(ctx, doc.SyncID, models.StateDownloading); err != nil {
		return err
	}

	for i := range doc.Attachments {
		a := &doc.Attachments[i]
		if !a.NeedsDownload() {
			continue
		}

		localPath, err := o.transfer.Download(ctx, a.StorageKey, a.SyncID, ident)
		if err != nil {
			if stErr := o.docs.UpdateState(ctx, doc.SyncID, models.StateError); stErr != nil {
				o.log.Error(ctx, "failed to record error state", "sync_id", doc.SyncID, "error", stErr)
			}
			return err
		}

		if err := o.files.SetLocalPath(ctx, a.SyncID, a.FileName, localPath); err != nil {
			if stErr := o.docs.UpdateState(ctx, doc.SyncID, models.StateError); stErr != nil {
				o.log.Error(ctx, "failed to record error state", "sync_id", doc.SyncID, "error", stErr)
			}
			return err
		}
		a.LocalPath = localPath
	}

	if err := o.docs.UpdateState(ctx, doc.SyncID, models.StateSynced); err != nil {
		return err
	}
	doc.SyncState = models.StateSynced
	return nil
}

// SyncDocument syncs a single document by its current state. Already-synced
// documents are a no-op. Shares the single-flight guard with PerformSync.
func (o *Orchestrator) SyncDocument(ctx context.Context, syncID string) error {
	if !o.syncEnabled() {
		return common.ErrSyncDisabled
	}
	if !o.running.TryLock() {
		return common.ErrAlreadyInProgress
	}
	defer o.running.Unlock()

	if !o.ident.IsAuthenticated() {
		return common.ErrNotAuthenticated
	}
	ident, err := o.ident.CurrentIdentity()
	if err != nil {
		return err
	}

	doc, err := o.docs.GetBySyncID(ctx, syncID)
	if err != nil {
		return err
	}
	if doc.SyncState == models.StateSynced {
		return nil
	}

	// Direction is decided by what the attachments actually need, so an
	// error-state document retries whichever side failed.
	needsUpload, needsDownload := false, false
	for _, a := range doc.Attachments {
		needsUpload = needsUpload || a.NeedsUpload()
		needsDownload = needsDownload || a.NeedsDownload()
	}

	if needsUpload || doc.SyncState == models.StatePendingUpload || doc.SyncState == models.StateUploading {
		if err := o.uploadDocument(ctx, ident, doc); err != nil {
			return err
		}
	}
	if needsDownload {
		return o.downloadDocument(ctx, ident, doc)
	}
	if doc.SyncState != models.StateSynced {
		return o.docs.UpdateState(ctx, doc.SyncID, models.StateSynced)
	}
	return nil
}

// TriggerSync schedules a sync after delay, replacing any pending schedule:
// a burst of triggers runs once, delay after the last one.
func (o *Orchestrator) TriggerSync(delay time.Duration) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(delay, func() {
		ctx := context.Background()
		if _, err := o.PerformSync(ctx); err != nil {
			// Busy and offline are expected here; anything else is logged too,
			// a background trigger has nobody to report to.
			o.log.Warn(ctx, "scheduled sync did not run", "error", err)
		}
	})
}

// OnDocumentChange is the mutation hook wired into the document service.
func (o *Orchestrator) OnDocumentChange(syncID string) {
	o.log.Debug(context.Background(), "document changed", "sync_id", syncID)
	o.TriggerSync(DebounceMutation)
}

// OnNetworkRestored is the connectivity hook.
func (o *Orchestrator) OnNetworkRestored() {
	o.TriggerSync(DebounceNetworkRestore)
}

// SyncOnAppLaunch reconciles in-flight states left by a killed process and
// runs an immediate sync when signed in. Errors are logged, never returned:
// app start must not fail on sync problems.
func (o *Orchestrator) SyncOnAppLaunch(ctx context.Context) {
	n, err := o.docs.ReconcileInFlight(ctx)
	if err != nil {
		o.log.Error(ctx, "failed to reconcile in-flight states", "error", err)
	} else if n > 0 {
		o.log.Info(ctx, "reconciled in-flight documents", "count", n)
	}

	if !o.syncEnabled() || !o.ident.IsAuthenticated() {
		return
	}
	if _, err := o.PerformSync(ctx); err != nil {
		o.log.Warn(ctx, "launch sync failed", "error", err)
	}
}

// Watch consumes connectivity transitions until ctx is cancelled, scheduling
// a sync whenever the network comes back.
func (o *Orchestrator) Watch(ctx context.Context) {
	if o.conn == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-o.conn.Changes():
			if !ok {
				return
			}
			if online {
				o.OnNetworkRestored()
			}
		}
	}
}

// Close stops any pending scheduled sync.
func (o *Orchestrator) Close() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// StatusStream subscribes to sync status updates. The channel is buffered;
// a lagging consumer misses intermediate states rather than blocking sync.
func (o *Orchestrator) StatusStream() <-chan models.SyncStatus {
	ch := make(chan models.SyncStatus, 16)
	o.subsMu.Lock()
	o.subs = append(o.subs, ch)
	o.subsMu.Unlock()
	return ch
}

func (o *Orchestrator) emit(s models.SyncStatus) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
