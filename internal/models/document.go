// Package models defines the document metadata types the sync engine moves
// between the local store and the remote blob store.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState describes where a document sits in the synchronization lifecycle.
type SyncState string

const (
	// StateSynced means every attachment is present both locally and remotely
	// (or only remotely, for documents fetched lazily).
	StateSynced SyncState = "synced"

	// StatePendingUpload marks a document with local changes not yet pushed.
	StatePendingUpload SyncState = "pending_upload"

	// StatePendingDownload marks a document known from remote metadata whose
	// attachment bytes are not on this device yet.
	StatePendingDownload SyncState = "pending_download"

	// StateUploading and StateDownloading are visible in-flight states used
	// to prevent duplicate concurrent transfers of the same document. They
	// are never trusted across process restarts.
	StateUploading   SyncState = "uploading"
	StateDownloading SyncState = "downloading"

	// StateError marks a document whose last transfer failed. The next sync
	// trigger retries it the same way as a pending document.
	StateError SyncState = "error"
)

// Document is a metadata record identified across all devices by SyncID.
type Document struct {
	// SyncID is a globally unique identifier generated client-side at
	// creation time. It is the primary key and is never reassigned.
	SyncID string

	Title    string
	Category string
	Date     *time.Time
	Notes    string

	// Labels is an ordered list of user tags, persisted as JSON text.
	Labels []string

	CreatedAt time.Time
	// UpdatedAt advances on every local mutation.
	UpdatedAt time.Time

	// SyncState is a derived value cached for querying; the source of truth
	// for "present remotely" is each attachment's StorageKey.
	SyncState SyncState

	Attachments []FileAttachment
}

// FileAttachment is one binary file owned by a document. An attachment is
// identified by (SyncID, FileName); it has no sync identifier of its own.
type FileAttachment struct {
	SyncID   string
	FileName string
	FileSize int64

	// LocalPath is empty while the bytes are absent on this device.
	LocalPath string

	// StorageKey is empty while the bytes are absent in the remote store.
	StorageKey string
}

// NeedsUpload reports whether the attachment has local bytes not yet pushed.
func (a FileAttachment) NeedsUpload() bool {
	return a.LocalPath != "" && a.StorageKey == ""
}

// NeedsDownload reports whether the attachment exists remotely but not here.
func (a FileAttachment) NeedsDownload() bool {
	return a.StorageKey != "" && a.LocalPath == ""
}

// NewSyncID returns a fresh 128-bit random identifier. Uniqueness across
// devices is guaranteed statistically, not by coordination.
func NewSyncID() string {
	return uuid.NewString()
}

// Touch advances UpdatedAt and flags the document for upload.
func (d *Document) Touch(now time.Time) {
	d.UpdatedAt = now
	d.SyncState = StatePendingUpload
}
