// Package documents persists Document metadata rows in the local store.
package documents

import (
	"context"

	"github.com/papersync/papersync/internal/models"
)

// Repository is the local-store access layer for documents. All reads return
// documents with their attachments loaded in insertion order.
type Repository interface {
	// Create inserts the document and its attachments in one transaction.
	Create(ctx context.Context, d *models.Document) error

	// CreateOrUpdate upserts a document row by sync id. Used by the remote
	// metadata merge; attachments are managed separately.
	CreateOrUpdate(ctx context.Context, d *models.Document) error

	GetBySyncID(ctx context.Context, syncID string) (*models.Document, error)

	ListAll(ctx context.Context) ([]*models.Document, error)

	// GetByStates returns documents whose sync state is one of states.
	GetByStates(ctx context.Context, states ...models.SyncState) ([]*models.Document, error)

	// GetDownloadCandidates returns documents in pending_download or error
	// state having at least one attachment with a storage key but no local
	// bytes.
	GetDownloadCandidates(ctx context.Context) ([]*models.Document, error)

	// UpdateMetadata writes the mutable metadata columns and the sync state
	// of an existing row.
	UpdateMetadata(ctx context.Context, d *models.Document) error

	// UpdateState writes only the sync_state column.
	UpdateState(ctx context.Context, syncID string, state models.SyncState) error

	// Delete removes the document and its attachments in one transaction and
	// returns the storage keys that were set, so the caller can clean up the
	// remote blobs afterwards.
	Delete(ctx context.Context, syncID string) ([]string, error)

	// ReconcileInFlight resets documents stuck in uploading/downloading
	// (left over from a killed process) back to their pending states.
	// Returns the number of rows changed.
	ReconcileInFlight(ctx context.Context) (int64, error)
}
