// Package transfer moves attachment bytes between the device and the remote
// blob store with bounded retry and exponential backoff.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/papersync/papersync/internal/blobstore"
	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/pathgen"
)

// Transferer performs the remote byte movement for the sync orchestrator.
type Transferer interface {
	// Upload pushes the file at localPath and returns the storage key.
	Upload(ctx context.Context, localPath, syncID, fileName, identity string) (string, error)

	// Download fetches key into the local data directory and returns the
	// local path.
	Download(ctx context.Context, key, syncID, identity string) (string, error)

	// Delete removes one remote object.
	Delete(ctx context.Context, key, identity string) error

	// DeleteMany removes all keys best-effort and returns the per-key
	// failures joined. Document-deletion callers log and swallow the result.
	DeleteMany(ctx context.Context, keys []string, identity string) error
}

const defaultMaxAttempts = 3

// FileTransfer implements Transferer over a BlobStore. Downloads land under
// {dataDir}/{syncID}/{fileName}.
type FileTransfer struct {
	store       blobstore.BlobStore
	log         logging.Logger
	dataDir     string
	maxAttempts int

	// sleep is injectable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFileTransfer(store blobstore.BlobStore, log logging.Logger, dataDir string) *FileTransfer {
	return &FileTransfer{
		store:       store,
		log:         log.With("component", "transfer"),
		dataDir:     dataDir,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// retryable reports whether err is worth another attempt. Precondition,
// ownership and not-found failures are terminal.
func retryable(err error) bool {
	switch {
	case errors.Is(err, common.ErrPreconditionFailed),
		errors.Is(err, common.ErrOwnershipMismatch),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// withRetry runs fn up to maxAttempts times, waiting 2^attempt seconds
// between attempts, and logs every attempt's outcome.
func (t *FileTransfer) withRetry(ctx context.Context, op, resource string, fn func() error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			t.log.Debug(ctx, "transfer attempt succeeded",
				"op", op, "resource", resource, "attempt", attempt)
			return attempt, nil
		}
		lastErr = err
		t.log.Warn(ctx, "transfer attempt failed",
			"op", op, "resource", resource, "attempt", attempt, "error", err)

		if !retryable(err) || attempt == t.maxAttempts {
			return attempt, err
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if err := t.sleep(ctx, backoff); err != nil {
			return attempt, err
		}
	}
	return t.maxAttempts, lastErr
}

func (t *FileTransfer) Upload(ctx context.Context, localPath, syncID, fileName, identity string) (string, error) {
	if localPath == "" {
		return "", newUploadError(fileName, 0, fmt.Errorf("%w: empty local path", common.ErrPreconditionFailed))
	}

	info, err := os.Stat(localPath)
	if err != nil {
		// A missing local file is a precondition failure, not retried.
		return "", newUploadError(fileName, 0,
			fmt.Errorf("%w: local file %s: %v", common.ErrPreconditionFailed, localPath, err))
	}

	key, err := pathgen.GenerateKey(identity, syncID, fileName)
	if err != nil {
		return "", newUploadError(fileName, 0, err)
	}

	attempts, err := t.withRetry(ctx, "upload", fileName, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", common.ErrPreconditionFailed, localPath, err)
		}
		defer f.Close()
		return t.store.Put(ctx, key, f, info.Size())
	})
	if err != nil {
		return "", newUploadError(fileName, attempts, err)
	}
	return key, nil
}

func (t *FileTransfer) Download(ctx context.Context, key, syncID, identity string) (string, error) {
	if key == "" {
		return "", newDownloadError(key, 0, fmt.Errorf("%w: empty key", common.ErrPreconditionFailed))
	}
	// The sync id becomes a directory under dataDir, so it must be a single
	// clean path segment before anything touches the filesystem.
	if !pathgen.ValidSegment(syncID) {
		return "", newDownloadError(key, 0, fmt.Errorf("%w: invalid sync id %q", common.ErrPreconditionFailed, syncID))
	}
	if !pathgen.ValidateOwnership(key, identity) {
		return "", newDownloadError(key, 0, common.ErrOwnershipMismatch)
	}

	fileName := path.Base(key)
	if !pathgen.ValidSegment(fileName) {
		return "", newDownloadError(key, 0, fmt.Errorf("%w: invalid file name %q", common.ErrPreconditionFailed, fileName))
	}

	dir := filepath.Join(t.dataDir, syncID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", newDownloadError(key, 0, fmt.Errorf("failed to create %s: %w", dir, err))
	}
	localPath := filepath.Join(dir, fileName)

	attempts, err := t.withRetry(ctx, "download", key, func() error {
		body, err := t.store.Get(ctx, key)
		if err != nil {
			return err
		}
		defer body.Close()
		return writeAtomic(localPath, body)
	})
	if err != nil {
		return "", newDownloadError(key, attempts, err)
	}
	return localPath, nil
}

func (t *FileTransfer) Delete(ctx context.Context, key, identity string) error {
	if key == "" {
		return newDeletionError(key, 0, fmt.Errorf("%w: empty key", common.ErrPreconditionFailed))
	}
	if !pathgen.ValidateOwnership(key, identity) {
		return newDeletionError(key, 0, common.ErrOwnershipMismatch)
	}

	attempts, err := t.withRetry(ctx, "delete", key, func() error {
		return t.store.Delete(ctx, key)
	})
	if err != nil {
		return newDeletionError(key, attempts, err)
	}
	return nil
}

// DeleteMany keeps going after individual failures and reports them joined.
func (t *FileTransfer) DeleteMany(ctx context.Context, keys []string, identity string) error {
	var errs []error
	for _, key := range keys {
		if err := t.Delete(ctx, key, identity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeAtomic stages into a temp file and renames, so a crashed download
// never leaves a half-written attachment at the final path.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
