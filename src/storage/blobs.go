package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// Execer runs statements that return no rows
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetBlob retrieves a blob row by key
func GetBlob(ctx context.Context, db sqlscan.Querier, key string) (*Blob, error) {
	query := `SELECT key, data, updated_at FROM blobs WHERE key = ?`
	var b Blob
	err := sqlscan.Get(ctx, db, &b, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &b, nil
}

// ListBlobKeys returns every stored key in order
func ListBlobKeys(ctx context.Context, db sqlscan.Querier) ([]string, error) {
	var keys []string
	err := sqlscan.Select(ctx, db, &keys, `SELECT key FROM blobs ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// PutBlob inserts or replaces the blob under key
func PutBlob(ctx context.Context, db Execer, key string, data []byte) error {
	query := `INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query, key, data, time.Now().UTC())
	return err
}
