// Package services exposes the document CRUD surface the UI layer calls.
// Every mutation marks the document pending and pokes the sync trigger.
package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/models"
	"github.com/papersync/papersync/internal/remotemeta"
	"github.com/papersync/papersync/internal/repositories/attachments"
	"github.com/papersync/papersync/internal/repositories/documents"
	"github.com/papersync/papersync/internal/transfer"
)

// DocumentInput is the user-supplied part of a document.
type DocumentInput struct {
	Title    string     `validate:"required,max=200"`
	Category string     `validate:"required,max=100"`
	Date     *time.Time `validate:"-"`
	Notes    string     `validate:"max=10000"`
	Labels   []string   `validate:"dive,required,max=50"`
}

// DocumentService owns local document mutations plus the deletion
// propagation to the remote store.
type DocumentService struct {
	docs     documents.Repository
	files    attachments.Repository
	transfer transfer.Transferer
	meta     remotemeta.Store
	ident    identity.Provider
	log      logging.Logger
	validate *validator.Validate

	// onChange is the orchestrator's mutation hook; nil in tests.
	onChange func(syncID string)

	now func() time.Time
}

func NewDocumentService(docs documents.Repository, files attachments.Repository,
	tr transfer.Transferer, meta remotemeta.Store, ident identity.Provider,
	log logging.Logger, onChange func(string)) *DocumentService {

	return &DocumentService{
		docs:     docs,
		files:    files,
		transfer: tr,
		meta:     meta,
		ident:    ident,
		log:      log.With("component", "documents"),
		validate: validator.New(),
		onChange: onChange,
		now:      time.Now,
	}
}

func (s *DocumentService) notify(syncID string) {
	if s.onChange != nil {
		s.onChange(syncID)
	}
}

// Create validates the input, assigns a fresh sync id and persists the
// document in pending_upload.
func (s *DocumentService) Create(ctx context.Context, in DocumentInput) (*models.Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	now := s.now().UTC()
	doc := &models.Document{
		SyncID:    models.NewSyncID(),
		Title:     in.Title,
		Category:  in.Category,
		Date:      in.Date,
		Notes:     in.Notes,
		Labels:    in.Labels,
		CreatedAt: now,
		UpdatedAt: now,
		SyncState: models.StatePendingUpload,
	}

	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.log.Info(ctx, "document created", "sync_id", doc.SyncID, "title", doc.Title)
	s.notify(doc.SyncID)
	return doc, nil
}

// Update rewrites the metadata fields and flags the document for upload.
func (s *DocumentService) Update(ctx context.Context, syncID string, in DocumentInput) (*models.Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	doc, err := s.docs.GetBySyncID(ctx, syncID)
	if err != nil {
		return nil, err
	}

	doc.Title = in.Title
	doc.Category = in.Category
	doc.Date = in.Date
	doc.Notes = in.Notes
	doc.Labels = in.Labels
	doc.Touch(s.now().UTC())

	if err := s.docs.UpdateMetadata(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	s.notify(doc.SyncID)
	return doc, nil
}

// AttachFile registers a local file as an attachment of the document. The
// file must exist; its size is captured from the filesystem.
func (s *DocumentService) AttachFile(ctx context.Context, syncID, localPath string) (*models.FileAttachment, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrPreconditionFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", common.ErrPreconditionFailed, localPath)
	}

	doc, err := s.docs.GetBySyncID(ctx, syncID)
	if err != nil {
		return nil, err
	}

	a := &models.FileAttachment{
		SyncID:    doc.SyncID,
		FileName:  info.Name(),
		FileSize:  info.Size(),
		LocalPath: localPath,
	}
	if err := s.files.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to attach file: %w", err)
	}

	doc.Touch(s.now().UTC())
	if err := s.docs.UpdateMetadata(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "file attached", "sync_id", syncID, "file", a.FileName, "size", a.FileSize)
	s.notify(syncID)
	return a, nil
}

// Delete removes the document locally, then cleans up the remote blobs and
// the metadata record best-effort. The local deletion is authoritative and
// is never rolled back on remote failure; leaked blobs are inert once no
// metadata record references them.
func (s *DocumentService) Delete(ctx context.Context, syncID string) error {
	doc, err := s.docs.GetBySyncID(ctx, syncID)
	if err != nil {
		return err
	}

	keys, err := s.docs.Delete(ctx, syncID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	for _, a := range doc.Attachments {
		if a.LocalPath == "" {
			continue
		}
		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn(ctx, "failed to remove local file", "path", a.LocalPath, "error", err)
		}
	}

	if len(keys) == 0 && s.meta == nil {
		return nil
	}
	ident, err := s.ident.CurrentIdentity()
	if err != nil {
		// Remote cleanup needs an identity; skip it, the record is gone.
		s.log.Warn(ctx, "skipping remote cleanup", "sync_id", syncID, "error", err)
		return nil
	}

	if len(keys) > 0 {
		if err := s.transfer.DeleteMany(ctx, keys, ident); err != nil {
			s.log.Warn(ctx, "remote blob cleanup incomplete", "sync_id", syncID, "error", err)
		}
	}
	if s.meta != nil {
		if err := s.meta.Remove(ctx, ident, syncID); err != nil {
			s.log.Warn(ctx, "failed to remove metadata record", "sync_id", syncID, "error", err)
		}
	}
	return nil
}

func (s *DocumentService) Get(ctx context.Context, syncID string) (*models.Document, error) {
	return s.docs.GetBySyncID(ctx, syncID)
}

func (s *DocumentService) List(ctx context.Context) ([]*models.Document, error) {
	return s.docs.ListAll(ctx)
}
