// Package remotemeta mirrors document metadata records in the remote store
// so other devices on the account can discover documents they have never
// seen. Records are JSON blobs under private/{identity}/meta/.
package remotemeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/papersync/papersync/internal/blobstore"
	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/models"
	"github.com/papersync/papersync/internal/pathgen"
	"github.com/papersync/papersync/internal/repositories/attachments"
	"github.com/papersync/papersync/internal/repositories/documents"
)

// Record is the wire shape of one document's remote metadata.
type Record struct {
	SyncID    string             `json:"sync_id"`
	Title     string             `json:"title"`
	Category  string             `json:"category"`
	Date      *time.Time         `json:"date,omitempty"`
	Notes     string             `json:"notes,omitempty"`
	Labels    []string           `json:"labels"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Files     []AttachmentRecord `json:"files"`
}

// AttachmentRecord carries only what another device needs to fetch the bytes.
type AttachmentRecord struct {
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	StorageKey string `json:"storage_key"`
}

// Store pushes and pulls metadata records.
type Store interface {
	Push(ctx context.Context, identity string, d *models.Document) error
	// Pull merges remote records into the local store and returns how many
	// documents were newly discovered.
	Pull(ctx context.Context, identity string) (int, error)
	Remove(ctx context.Context, identity, syncID string) error
}

// BlobMetaStore implements Store over the blob store.
type BlobMetaStore struct {
	blobs blobstore.BlobStore
	docs  documents.Repository
	files attachments.Repository
	log   logging.Logger
}

func NewBlobMetaStore(blobs blobstore.BlobStore, docs documents.Repository, files attachments.Repository, log logging.Logger) *BlobMetaStore {
	return &BlobMetaStore{blobs: blobs, docs: docs, files: files, log: log.With("component", "remotemeta")}
}

// Push writes the document's record. Only attachments already uploaded are
// included; other devices cannot fetch bytes that have no storage key.
func (s *BlobMetaStore) Push(ctx context.Context, identity string, d *models.Document) error {
	key, err := pathgen.MetaKey(identity, d.SyncID)
	if err != nil {
		return err
	}

	rec := Record{
		SyncID:    d.SyncID,
		Title:     d.Title,
		Category:  d.Category,
		Date:      d.Date,
		Notes:     d.Notes,
		Labels:    d.Labels,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, a := range d.Attachments {
		if a.StorageKey == "" {
			continue
		}
		rec.Files = append(rec.Files, AttachmentRecord{
			FileName:   a.FileName,
			FileSize:   a.FileSize,
			StorageKey: a.StorageKey,
		})
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode metadata record: %w", err)
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("failed to push metadata record: %w", err)
	}
	return nil
}

// Pull lists the meta prefix, fetches every record, and merges it locally.
// Unknown documents are inserted in pending_download; known documents take
// the remote metadata only when the remote copy is newer (last-write-wins on
// updated_at, a deliberate simplification).
func (s *BlobMetaStore) Pull(ctx context.Context, identity string) (int, error) {
	prefix, err := pathgen.MetaPrefix(identity)
	if err != nil {
		return 0, err
	}

	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list metadata records: %w", err)
	}

	discovered := 0
	for _, key := range keys {
		if !pathgen.ValidateOwnership(key, identity) {
			s.log.Warn(ctx, "skipping metadata record outside namespace", "key", key)
			continue
		}

		rec, err := s.fetch(ctx, key)
		if err != nil {
			s.log.Error(ctx, "failed to fetch metadata record", "key", key, "error", err)
			continue
		}

		isNew, err := s.merge(ctx, identity, rec)
		if err != nil {
			s.log.Error(ctx, "failed to merge metadata record", "sync_id", rec.SyncID, "error", err)
			continue
		}
		if isNew {
			discovered++
		}
	}
	return discovered, nil
}

func (s *BlobMetaStore) fetch(ctx context.Context, key string) (*Record, error) {
	body, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata record: %w", err)
	}
	// The sync id feeds storage keys and local directory names, so a record
	// carrying separators or dot segments is rejected before it can merge.
	if !pathgen.ValidSegment(rec.SyncID) {
		return nil, fmt.Errorf("metadata record has malformed sync id %q", rec.SyncID)
	}
	return rec, nil
}

func (s *BlobMetaStore) merge(ctx context.Context, identity string, rec *Record) (bool, error) {
	local, err := s.docs.GetBySyncID(ctx, rec.SyncID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return true, s.insertNew(ctx, rec)
	case err != nil:
		return false, err
	}

	// Local copy exists. Ignore stale remote records and never clobber a
	// document with local changes still waiting to go out.
	if !rec.UpdatedAt.After(local.UpdatedAt) {
		return false, nil
	}
	if local.SyncState == models.StatePendingUpload || local.SyncState == models.StateUploading {
		return false, nil
	}

	doc := recordToDocument(rec)
	doc.SyncState = local.SyncState
	if err := s.docs.CreateOrUpdate(ctx, doc); err != nil {
		return false, err
	}

	// Attachments added on another device show up as new rows with a
	// storage key and no local bytes.
	known := make(map[string]struct{}, len(local.Attachments))
	for _, a := range local.Attachments {
		known[a.FileName] = struct{}{}
	}
	missing := false
	for _, f := range rec.Files {
		if _, ok := known[f.FileName]; ok {
			continue
		}
		a := &models.FileAttachment{
			SyncID:     rec.SyncID,
			FileName:   f.FileName,
			FileSize:   f.FileSize,
			StorageKey: f.StorageKey,
		}
		if err := s.files.Insert(ctx, a); err != nil {
			return false, err
		}
		missing = true
	}
	if missing {
		if err := s.docs.UpdateState(ctx, rec.SyncID, models.StatePendingDownload); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *BlobMetaStore) insertNew(ctx context.Context, rec *Record) error {
	doc := recordToDocument(rec)
	if len(rec.Files) > 0 {
		doc.SyncState = models.StatePendingDownload
	} else {
		doc.SyncState = models.StateSynced
	}
	for _, f := range rec.Files {
		doc.Attachments = append(doc.Attachments, models.FileAttachment{
			SyncID:     rec.SyncID,
			FileName:   f.FileName,
			FileSize:   f.FileSize,
			StorageKey: f.StorageKey,
		})
	}
	return s.docs.Create(ctx, doc)
}

func recordToDocument(rec *Record) *models.Document {
	return &models.Document{
		SyncID:    rec.SyncID,
		Title:     rec.Title,
		Category:  rec.Category,
		Date:      rec.Date,
		Notes:     rec.Notes,
		Labels:    rec.Labels,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// Remove deletes the record so other devices stop seeing the document.
func (s *BlobMetaStore) Remove(ctx context.Context, identity, syncID string) error {
	key, err := pathgen.MetaKey(identity, syncID)
	if err != nil {
		return err
	}
	if !pathgen.ValidateOwnership(key, identity) {
		return common.ErrOwnershipMismatch
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove metadata record: %w", err)
	}
	return nil
}
