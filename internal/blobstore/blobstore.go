// Package blobstore abstracts the remote object store holding attachment
// bytes and metadata records.
package blobstore

import (
	"context"
	"io"
)

// BlobStore is a namespaced key-value binary store. Overwrites of the same
// key are last-writer-wins and Delete of an absent key succeeds.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
