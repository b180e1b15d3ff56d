package attachments

import (
	"context"
	"fmt"

	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/dbx"
	"github.com/papersync/papersync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.FileAttachment) error {
	query := `INSERT INTO attachments (sync_id, file_name, file_size, local_path, storage_key)
			VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, a.SyncID, a.FileName, a.FileSize, a.LocalPath, a.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListByDocument(ctx context.Context, syncID string) ([]models.FileAttachment, error) {
	query := `SELECT sync_id, file_name, file_size, local_path, storage_key
			FROM attachments WHERE sync_id=? ORDER BY rowid`
	rows, err := r.db.QueryContext(ctx, query, syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []models.FileAttachment
	for rows.Next() {
		var a models.FileAttachment
		if err := rows.Scan(&a.SyncID, &a.FileName, &a.FileSize, &a.LocalPath, &a.StorageKey); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetStorageKey updates a single column on a single row, so a state write
// racing a UI read never sees a torn attachment.
func (r *SQLiteRepository) SetStorageKey(ctx context.Context, syncID, fileName, storageKey string) error {
	return r.setColumn(ctx, "storage_key", storageKey, syncID, fileName)
}

func (r *SQLiteRepository) SetLocalPath(ctx context.Context, syncID, fileName, localPath string) error {
	return r.setColumn(ctx, "local_path", localPath, syncID, fileName)
}

func (r *SQLiteRepository) setColumn(ctx context.Context, column, value, syncID, fileName string) error {
	query := fmt.Sprintf(`UPDATE attachments SET %s=? WHERE sync_id=? AND file_name=?`, column)
	res, err := r.db.ExecContext(ctx, query, value, syncID, fileName)
	if err != nil {
		return fmt.Errorf("failed to update attachment %s: %w", column, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
