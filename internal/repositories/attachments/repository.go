// Package attachments persists FileAttachment rows in the local store.
package attachments

import (
	"context"

	"github.com/papersync/papersync/internal/models"
)

// Repository is the local-store access layer for attachments. Rows are keyed
// by (sync_id, file_name).
type Repository interface {
	Insert(ctx context.Context, a *models.FileAttachment) error

	// ListByDocument returns the document's attachments in insertion order.
	ListByDocument(ctx context.Context, syncID string) ([]models.FileAttachment, error)

	// SetStorageKey records the remote location of one attachment. Called
	// per file as soon as an upload returns, so partial progress survives a
	// mid-sync crash.
	SetStorageKey(ctx context.Context, syncID, fileName, storageKey string) error

	// SetLocalPath records the on-device location of one attachment.
	SetLocalPath(ctx context.Context, syncID, fileName, localPath string) error
}
