package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/papersync/papersync/internal/blobstore"
	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/localdb"
	"github.com/papersync/papersync/internal/logging"
	"github.com/papersync/papersync/internal/models"
	"github.com/papersync/papersync/internal/remotemeta"
	"github.com/papersync/papersync/internal/transfer"
)

const testIdentity = "eu-central-1:8a2b54f3-32fb-4c7d-9c2a-3f1de2a94b10"

type env struct {
	repos *localdb.Repositories
	store *blobstore.MemoryStore
	tr    *transfer.FileTransfer
	orch  *Orchestrator
	ident *identity.Static
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	ctx := context.Background()

	repos, err := localdb.Open(ctx, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.DB.Close() })

	store := blobstore.NewMemoryStore()
	log := logging.NewNopLogger()
	tr := transfer.NewFileTransfer(store, log, t.TempDir())
	ident := &identity.Static{Identity: testIdentity, Authed: true}

	orch := New(repos.Documents, repos.Attachments, tr, ident, log, opts)
	t.Cleanup(orch.Close)

	return &env{repos: repos, store: store, tr: tr, orch: orch, ident: ident}
}

func (e *env) createDocument(t *testing.T, state models.SyncState, files ...models.FileAttachment) *models.Document {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	d := &models.Document{
		SyncID:      models.NewSyncID(),
		Title:       "Insurance",
		Category:    "household",
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncState:   state,
		Attachments: files,
	}
	require.NoError(t, e.repos.Documents.Create(context.Background(), d))
	return d
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPerformSyncUploadsDocumentWithoutFiles(t *testing.T) {
	e := newEnv(t, Options{})
	doc := e.createDocument(t, models.StatePendingUpload)

	res, err := e.orch.PerformSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Uploaded)
	assert.Zero(t, res.Downloaded)
	assert.Empty(t, res.Errors)

	got, err := e.repos.Documents.GetBySyncID(context.Background(), doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
}

func TestPerformSyncUploadsAttachments(t *testing.T) {
	e := newEnv(t, Options{})
	local := writeTempFile(t, "scan bytes")
	doc := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "scan.pdf", FileSize: 10, LocalPath: local})

	res, err := e.orch.PerformSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Empty(t, res.Errors)

	got, err := e.repos.Documents.GetBySyncID(context.Background(), doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
	require.Len(t, got.Attachments, 1)

	key := got.Attachments[0].StorageKey
	require.NotEmpty(t, key)
	assert.Equal(t, []byte("scan bytes"), e.store.Object(key))
}

func TestPerformSyncPartialFailureIsolation(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	doc1 := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "one.pdf", LocalPath: writeTempFile(t, "one")})
	doc2 := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "two.pdf", LocalPath: "/nonexistent/two.pdf"})
	doc3 := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "three.pdf", LocalPath: writeTempFile(t, "three")})

	res, err := e.orch.PerformSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Uploaded)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], doc2.SyncID)

	for id, want := range map[string]models.SyncState{
		doc1.SyncID: models.StateSynced,
		doc2.SyncID: models.StateError,
		doc3.SyncID: models.StateSynced,
	} {
		got, err := e.repos.Documents.GetBySyncID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.SyncState, "document %s", id)
	}
}

func TestErrorStateRetriedOnNextRun(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	doc := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "scan.pdf", LocalPath: "/nonexistent/scan.pdf"})

	res, err := e.orch.PerformSync(ctx)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)

	// Put the file in place and sync again; the error document retries.
	local := writeTempFile(t, "fixed")
	require.NoError(t, e.repos.Attachments.SetLocalPath(ctx, doc.SyncID, "scan.pdf", local))

	res, err = e.orch.PerformSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Empty(t, res.Errors)

	got, err := e.repos.Documents.GetBySyncID(ctx, doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
}

func TestErrorDocumentNeedingOnlyDownloadCountedOnce(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	key := "private/" + testIdentity + "/documents/remote-doc/scan.pdf"
	require.NoError(t, e.store.Put(ctx, key, strings.NewReader("remote bytes"), 12))

	// The document failed a previous run but its only attachment just lacks
	// local bytes. The download phase owns it; it must not be reported as an
	// upload too.
	doc := e.createDocument(t, models.StateError,
		models.FileAttachment{FileName: "scan.pdf", FileSize: 12, StorageKey: key})

	res, err := e.orch.PerformSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
	assert.Equal(t, 1, res.Downloaded)
	assert.Empty(t, res.Errors)

	got, err := e.repos.Documents.GetBySyncID(ctx, doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
	require.Len(t, got.Attachments, 1)
	assert.NotEmpty(t, got.Attachments[0].LocalPath)
}

func TestPerformSyncNotAuthenticated(t *testing.T) {
	e := newEnv(t, Options{})
	e.ident.Authed = false

	_, err := e.orch.PerformSync(context.Background())
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestPerformSyncDisabled(t *testing.T) {
	e := newEnv(t, Options{SyncEnabled: func() bool { return false }})

	_, err := e.orch.PerformSync(context.Background())
	assert.ErrorIs(t, err, common.ErrSyncDisabled)
}

type fakeConn struct {
	online  bool
	changes chan bool
}

func (c *fakeConn) IsOnline() bool       { return c.online }
func (c *fakeConn) Changes() <-chan bool { return c.changes }

func TestPerformSyncOffline(t *testing.T) {
	conn := &fakeConn{online: false, changes: make(chan bool, 1)}
	e := newEnv(t, Options{Conn: conn})

	_, err := e.orch.PerformSync(context.Background())
	assert.ErrorIs(t, err, common.ErrOffline)
}

// blockingTransfer parks the first upload until released, so tests can hold
// a sync run open.
type blockingTransfer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTransfer) Upload(ctx context.Context, localPath, syncID, fileName, ident string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return fmt.Sprintf("private/%s/documents/%s/%s", ident, syncID, fileName), nil
}

func (b *blockingTransfer) Download(ctx context.Context, key, syncID, ident string) (string, error) {
	return "/tmp/" + syncID, nil
}

func (b *blockingTransfer) Delete(ctx context.Context, key, ident string) error { return nil }
func (b *blockingTransfer) DeleteMany(ctx context.Context, keys []string, ident string) error {
	return nil
}

func TestPerformSyncSingleFlight(t *testing.T) {
	e := newEnv(t, Options{})
	bt := &blockingTransfer{started: make(chan struct{}), release: make(chan struct{})}

	orch := New(e.repos.Documents, e.repos.Attachments, bt, e.ident, logging.NewNopLogger(), Options{})
	e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "scan.pdf", LocalPath: "/tmp/whatever.pdf"})

	done := make(chan *models.SyncResult, 1)
	go func() {
		res, err := orch.PerformSync(context.Background())
		require.NoError(t, err)
		done <- res
	}()

	<-bt.started
	_, err := orch.PerformSync(context.Background())
	assert.ErrorIs(t, err, common.ErrAlreadyInProgress)

	close(bt.release)
	res := <-done
	assert.Equal(t, 1, res.Uploaded)
}

// countingMeta counts pulls; enough to count debounced runs.
type countingMeta struct {
	mu    sync.Mutex
	pulls int
}

func (m *countingMeta) Push(ctx context.Context, ident string, d *models.Document) error { return nil }
func (m *countingMeta) Remove(ctx context.Context, ident, syncID string) error           { return nil }
func (m *countingMeta) Pull(ctx context.Context, ident string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls++
	return 0, nil
}

func (m *countingMeta) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls
}

func TestTriggerSyncDebounceCollapsing(t *testing.T) {
	meta := &countingMeta{}
	e := newEnv(t, Options{Meta: meta})

	for i := 0; i < 5; i++ {
		e.orch.TriggerSync(150 * time.Millisecond)
		time.Sleep(20 * time.Millisecond)
	}

	// Well past the delay measured from the last trigger.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, meta.count())
}

func TestStatusStreamEmissions(t *testing.T) {
	e := newEnv(t, Options{})
	ch := e.orch.StatusStream()

	_, err := e.orch.PerformSync(context.Background())
	require.NoError(t, err)

	var got []models.SyncStatus
	for i := 0; i < 3; i++ {
		select {
		case s := <-ch:
			got = append(got, s)
		case <-time.After(time.Second):
			t.Fatal("status stream stalled")
		}
	}
	assert.Equal(t, []models.SyncStatus{models.StatusSyncing, models.StatusCompleted, models.StatusIdle}, got)
}

func TestStatusStreamErrorOnFailure(t *testing.T) {
	e := newEnv(t, Options{})
	e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "gone.pdf", LocalPath: "/nonexistent/gone.pdf"})

	ch := e.orch.StatusStream()
	_, err := e.orch.PerformSync(context.Background())
	require.NoError(t, err)

	var got []models.SyncStatus
	for i := 0; i < 3; i++ {
		got = append(got, <-ch)
	}
	assert.Equal(t, []models.SyncStatus{models.StatusSyncing, models.StatusError, models.StatusIdle}, got)
}

func TestSecondDeviceDownloadsByMetadata(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	log := logging.NewNopLogger()

	// Device A uploads a document with one file and mirrors its metadata.
	reposA, err := localdb.Open(ctx, filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	defer reposA.DB.Close()

	trA := transfer.NewFileTransfer(store, log, t.TempDir())
	metaA := remotemeta.NewBlobMetaStore(store, reposA.Documents, reposA.Attachments, log)
	ident := &identity.Static{Identity: testIdentity, Authed: true}
	orchA := New(reposA.Documents, reposA.Attachments, trA, ident, log, Options{Meta: metaA})

	local := writeTempFile(t, "shared document bytes")
	now := time.Now().UTC().Truncate(time.Second)
	doc := &models.Document{
		SyncID: models.NewSyncID(), Title: "Shared", Category: "work",
		CreatedAt: now, UpdatedAt: now, SyncState: models.StatePendingUpload,
		Attachments: []models.FileAttachment{{FileName: "shared.pdf", FileSize: 20, LocalPath: local}},
	}
	require.NoError(t, reposA.Documents.Create(ctx, doc))

	res, err := orchA.PerformSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)

	// Device B shares the account but has an empty local store.
	reposB, err := localdb.Open(ctx, filepath.Join(t.TempDir(), "b.db"))
	require.NoError(t, err)
	defer reposB.DB.Close()

	trB := transfer.NewFileTransfer(store, log, t.TempDir())
	metaB := remotemeta.NewBlobMetaStore(store, reposB.Documents, reposB.Attachments, log)
	orchB := New(reposB.Documents, reposB.Attachments, trB, ident, log, Options{Meta: metaB})

	res, err = orchB.PerformSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Empty(t, res.Errors)

	got, err := reposB.Documents.GetBySyncID(ctx, doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
	require.Len(t, got.Attachments, 1)
	require.NotEmpty(t, got.Attachments[0].LocalPath)

	bytesB, err := os.ReadFile(got.Attachments[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared document bytes"), bytesB)
}

func TestSyncOnAppLaunchReconcilesInFlight(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	stuck := e.createDocument(t, models.StateUploading,
		models.FileAttachment{FileName: "stuck.pdf", LocalPath: writeTempFile(t, "stuck")})

	e.orch.SyncOnAppLaunch(ctx)

	got, err := e.repos.Documents.GetBySyncID(ctx, stuck.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)
	assert.NotEmpty(t, got.Attachments[0].StorageKey)
}

func TestSyncOnAppLaunchSignedOutOnlyReconciles(t *testing.T) {
	e := newEnv(t, Options{})
	e.ident.Authed = false
	ctx := context.Background()

	stuck := e.createDocument(t, models.StateDownloading,
		models.FileAttachment{FileName: "stuck.pdf", StorageKey: "private/x/documents/y/stuck.pdf"})

	e.orch.SyncOnAppLaunch(ctx)

	got, err := e.repos.Documents.GetBySyncID(ctx, stuck.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingDownload, got.SyncState)
}

func TestSyncDocument(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	doc := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "scan.pdf", LocalPath: writeTempFile(t, "single")})

	require.NoError(t, e.orch.SyncDocument(ctx, doc.SyncID))

	got, err := e.repos.Documents.GetBySyncID(ctx, doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.SyncState)

	// Synced documents are a no-op.
	require.NoError(t, e.orch.SyncDocument(ctx, doc.SyncID))

	assert.ErrorIs(t, e.orch.SyncDocument(ctx, "missing"), common.ErrNotFound)
}

func TestWatchSchedulesSyncOnRestore(t *testing.T) {
	meta := &countingMeta{}
	conn := &fakeConn{online: true, changes: make(chan bool, 1)}
	e := newEnv(t, Options{Meta: meta, Conn: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.orch.Watch(ctx)

	// An offline transition must not schedule anything.
	conn.changes <- false
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, meta.count())

	// Shrink the debounce by triggering directly after the online event.
	conn.changes <- true
	time.Sleep(50 * time.Millisecond)
	e.orch.TriggerSync(10 * time.Millisecond)
	require.Eventually(t, func() bool { return meta.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestUploadPersistsKeysPerFile(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	// Second attachment fails; the first one's key must already be durable.
	doc := e.createDocument(t, models.StatePendingUpload,
		models.FileAttachment{FileName: "ok.pdf", LocalPath: writeTempFile(t, "ok")},
		models.FileAttachment{FileName: "bad.pdf", LocalPath: "/nonexistent/bad.pdf"})

	res, err := e.orch.PerformSync(ctx)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)

	got, err := e.repos.Documents.GetBySyncID(ctx, doc.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, got.SyncState)
	assert.NotEmpty(t, got.Attachments[0].StorageKey)
	assert.Empty(t, got.Attachments[1].StorageKey)
}
