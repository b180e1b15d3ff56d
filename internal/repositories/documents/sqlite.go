package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/dbx"
	"github.com/papersync/papersync/internal/models"
)

// SQLiteRepository implements Repository over a *sql.DB. Write helpers that
// must run inside a caller-provided transaction accept a dbx.DBTX instead.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const documentColumns = `sync_id, title, category, doc_date, notes, labels, created_at, updated_at, sync_state`

func insertDocument(ctx context.Context, tx dbx.DBTX, d *models.Document) error {
	labels, err := json.Marshal(d.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	query := `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		d.SyncID, d.Title, d.Category, nullTime(d.Date), d.Notes, string(labels),
		d.CreatedAt, d.UpdatedAt, string(d.SyncState))
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func insertAttachment(ctx context.Context, tx dbx.DBTX, a *models.FileAttachment) error {
	query := `INSERT INTO attachments (sync_id, file_name, file_size, local_path, storage_key)
			VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, a.SyncID, a.FileName, a.FileSize, a.LocalPath, a.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// Create inserts the document row and all attachment rows atomically.
func (r *SQLiteRepository) Create(ctx context.Context, d *models.Document) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := insertDocument(ctx, tx, d); err != nil {
			return err
		}
		for i := range d.Attachments {
			d.Attachments[i].SyncID = d.SyncID
			if err := insertAttachment(ctx, tx, &d.Attachments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateOrUpdate upserts the document row by sync id.
func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, d *models.Document) error {
	labels, err := json.Marshal(d.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	query := `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(sync_id) DO UPDATE SET title = excluded.title,
				category = excluded.category,
				doc_date = excluded.doc_date,
				notes = excluded.notes,
				labels = excluded.labels,
				updated_at = excluded.updated_at,
				sync_state = excluded.sync_state`
	_, err = r.db.ExecContext(ctx, query,
		d.SyncID, d.Title, d.Category, nullTime(d.Date), d.Notes, string(labels),
		d.CreatedAt, d.UpdatedAt, string(d.SyncState))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// GetBySyncID returns one document with attachments, or common.ErrNotFound.
func (r *SQLiteRepository) GetBySyncID(ctx context.Context, syncID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE sync_id = ?`
	row := r.db.QueryRowContext(ctx, query, syncID)

	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select document: %w", err)
	}

	if err := r.loadAttachments(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListAll returns every document with attachments.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at`
	return r.queryDocuments(ctx, query)
}

// GetByStates returns documents matching any of the given sync states.
func (r *SQLiteRepository) GetByStates(ctx context.Context, states ...models.SyncState) ([]*models.Document, error) {
	if len(states) == 0 {
		return nil, nil
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE sync_state IN (?` +
		repeatPlaceholder(len(states)-1) + `) ORDER BY created_at`
	args := make([]any, 0, len(states))
	for _, s := range states {
		args = append(args, string(s))
	}
	return r.queryDocuments(ctx, query, args...)
}

// GetDownloadCandidates returns pending_download/error documents with at
// least one attachment present remotely but absent locally.
func (r *SQLiteRepository) GetDownloadCandidates(ctx context.Context) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d
			WHERE d.sync_state IN (?, ?)
			AND EXISTS (
				SELECT 1 FROM attachments a
				WHERE a.sync_id = d.sync_id AND a.storage_key != '' AND a.local_path = ''
			)
			ORDER BY d.created_at`
	return r.queryDocuments(ctx, query,
		string(models.StatePendingDownload), string(models.StateError))
}

// UpdateMetadata rewrites the mutable columns of an existing document row.
func (r *SQLiteRepository) UpdateMetadata(ctx context.Context, d *models.Document) error {
	labels, err := json.Marshal(d.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	query := `UPDATE documents SET title=?, category=?, doc_date=?, notes=?, labels=?, updated_at=?, sync_state=?
			WHERE sync_id=?`
	res, err := r.db.ExecContext(ctx, query,
		d.Title, d.Category, nullTime(d.Date), d.Notes, string(labels),
		d.UpdatedAt, string(d.SyncState), d.SyncID)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return requireOneRow(res)
}

// UpdateState writes only the sync_state column of one row.
func (r *SQLiteRepository) UpdateState(ctx context.Context, syncID string, state models.SyncState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET sync_state=? WHERE sync_id=?`, string(state), syncID)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return requireOneRow(res)
}

// Delete removes the document and attachment rows in one transaction and
// returns the storage keys that were set on the deleted attachments.
func (r *SQLiteRepository) Delete(ctx context.Context, syncID string) ([]string, error) {
	var keys []string
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT storage_key FROM attachments WHERE sync_id=? AND storage_key != ''`, syncID)
		if err != nil {
			return fmt.Errorf("failed to select storage keys: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return err
			}
			keys = append(keys, k)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE sync_id=?`, syncID); err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE sync_id=?`, syncID)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra == 0 {
			return common.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ReconcileInFlight maps stale in-flight states back to their pending
// equivalents. In-flight states are not trusted across restarts.
func (r *SQLiteRepository) ReconcileInFlight(ctx context.Context) (int64, error) {
	var total int64
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET sync_state=? WHERE sync_state=?`,
			string(models.StatePendingUpload), string(models.StateUploading))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += n

		res, err = tx.ExecContext(ctx,
			`UPDATE documents SET sync_state=? WHERE sync_state=?`,
			string(models.StatePendingDownload), string(models.StateDownloading))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile in-flight states: %w", err)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	d := &models.Document{}
	var date sql.NullTime
	var labels, state string

	if err := row.Scan(&d.SyncID, &d.Title, &d.Category, &date, &d.Notes, &labels,
		&d.CreatedAt, &d.UpdatedAt, &state); err != nil {
		return nil, err
	}

	if date.Valid {
		t := date.Time
		d.Date = &t
	}
	if err := json.Unmarshal([]byte(labels), &d.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	d.SyncState = models.SyncState(state)
	return d, nil
}

func (r *SQLiteRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range result {
		if err := r.loadAttachments(ctx, d); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// loadAttachments fills d.Attachments in insertion (rowid) order.
func (r *SQLiteRepository) loadAttachments(ctx context.Context, d *models.Document) error {
	query := `SELECT sync_id, file_name, file_size, local_path, storage_key
			FROM attachments WHERE sync_id=? ORDER BY rowid`
	rows, err := r.db.QueryContext(ctx, query, d.SyncID)
	if err != nil {
		return fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	d.Attachments = nil
	for rows.Next() {
		var a models.FileAttachment
		if err := rows.Scan(&a.SyncID, &a.FileName, &a.FileSize, &a.LocalPath, &a.StorageKey); err != nil {
			return err
		}
		d.Attachments = append(d.Attachments, a)
	}
	return rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// repeatPlaceholder returns ", ?" repeated n times, for IN clauses.
func repeatPlaceholder(n int) string {
	return strings.Repeat(", ?", n)
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
