package transfer

import "fmt"

// OpError is the terminal failure of one transfer operation after retries
// are exhausted. It carries the last underlying cause.
type OpError struct {
	Op       string // "upload", "download" or "delete"
	Resource string // file name or storage key
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s of %s failed after %d attempt(s): %v", e.Op, e.Resource, e.Attempts, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// UploadError, DownloadError and DeletionError name the terminal failure of
// each operation kind so callers can match on the type.
type (
	UploadError   struct{ OpError }
	DownloadError struct{ OpError }
	DeletionError struct{ OpError }
)

func newUploadError(resource string, attempts int, err error) *UploadError {
	return &UploadError{OpError{Op: "upload", Resource: resource, Attempts: attempts, Err: err}}
}

func newDownloadError(resource string, attempts int, err error) *DownloadError {
	return &DownloadError{OpError{Op: "download", Resource: resource, Attempts: attempts, Err: err}}
}

func newDeletionError(resource string, attempts int, err error) *DeletionError {
	return &DeletionError{OpError{Op: "delete", Resource: resource, Attempts: attempts, Err: err}}
}
