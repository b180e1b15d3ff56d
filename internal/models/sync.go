package models

// SyncResult summarizes one full sync run. Per-document failures are
// collected here instead of aborting the run.
type SyncResult struct {
	Uploaded   int
	Downloaded int
	Errors     []string
}

// SyncStatus is emitted around every sync run for UI consumption. It is an
// observation channel only and takes no part in control flow.
type SyncStatus string

const (
	StatusIdle      SyncStatus = "idle"
	StatusSyncing   SyncStatus = "syncing"
	StatusCompleted SyncStatus = "completed"
	StatusError     SyncStatus = "error"
)
