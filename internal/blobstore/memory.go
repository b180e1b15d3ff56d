package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/papersync/papersync/internal/common"
)

// MemoryStore is an in-memory BlobStore for tests. It records every call and
// can be told to fail specific keys.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Calls lists operations in order, formatted "op key".
	Calls []string

	// FailPut / FailGet / FailDelete force an error for the listed keys.
	FailPut    map[string]error
	FailGet    map[string]error
	FailDelete map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string][]byte),
		FailPut:    make(map[string]error),
		FailGet:    make(map[string]error),
		FailDelete: make(map[string]error),
	}
}

func (m *MemoryStore) record(op, key string) {
	m.Calls = append(m.Calls, op+" "+key)
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("put", key)
	if err, ok := m.FailPut[key]; ok {
		return err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get", key)
	if err, ok := m.FailGet[key]; ok {
		return nil, err
	}
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", common.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Delete succeeds for absent keys, matching S3 semantics.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete", key)
	if err, ok := m.FailDelete[key]; ok {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list", prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Object returns the stored bytes for key, or nil.
func (m *MemoryStore) Object(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
