// Package pgblob provides a PostgreSQL-backed DataSourceStore (file
// metadata) paired with a local-filesystem BlobStorage (file bytes), the
// reference durable backend for attachments (spec.md §6 "Data Source
// Store/Blob Storage").
//
// Grounded on store/postgres in the nevindra-oasis pack repo: an
// externally-owned *pgxpool.Pool injected via constructor, an idempotent
// Init that issues CREATE TABLE IF NOT EXISTS/CREATE INDEX IF NOT EXISTS,
// ON CONFLICT upserts, and fmt.Errorf("pgblob: <op>: %w", err) wrapping
// throughout.
package pgblob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/store"
)

// DataSourceStore persists DataSource metadata rows in Postgres. The
// caller owns pool's lifecycle.
type DataSourceStore struct {
	pool *pgxpool.Pool
}

// New constructs a DataSourceStore using an existing pool.
func New(pool *pgxpool.Pool) *DataSourceStore {
	return &DataSourceStore{pool: pool}
}

// Init creates the data_sources table (keyed by file_id; no further
// indexes). Safe to call more than once.
func (s *DataSourceStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS data_sources (
			file_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			metadata JSONB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgblob: init: %w", err)
		}
	}
	return nil
}

// SaveFile inserts a new data source row. The blob itself is not stored
// here — pair this store with a BlobStorage implementation (this package's
// LocalBlobStorage, or an S3-backed one) to persist bytes.
func (s *DataSourceStore) SaveFile(ctx context.Context, blob []byte, metadata map[string]string) (store.DataSource, error) {
	id := core.NewID()
	ds := store.DataSource{
		FileID:      id,
		Size:        int64(len(blob)),
		Name:        metadata["name"],
		ContentType: metadata["content_type"],
		Metadata:    metadata,
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return store.DataSource{}, fmt.Errorf("pgblob: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO data_sources (file_id, name, content_type, size, metadata)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		ds.FileID, ds.Name, ds.ContentType, ds.Size, metaJSON)
	if err != nil {
		return store.DataSource{}, fmt.Errorf("pgblob: save file: %w", err)
	}
	return ds, nil
}

// Get retrieves a data source's metadata and delegates byte retrieval to
// nil — callers needing bytes should use a paired BlobStorage keyed by the
// same file id. The []byte return exists to satisfy store.DataSourceStore;
// here it is always nil, since this store only tracks metadata.
func (s *DataSourceStore) Get(ctx context.Context, fileID string) (store.DataSource, []byte, error) {
	var ds store.DataSource
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT file_id, name, content_type, size, metadata FROM data_sources WHERE file_id = $1`, fileID,
	).Scan(&ds.FileID, &ds.Name, &ds.ContentType, &ds.Size, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DataSource{}, nil, store.ErrNotFound
	}
	if err != nil {
		return store.DataSource{}, nil, fmt.Errorf("pgblob: get file: %w", err)
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &ds.Metadata)
	}
	return ds, nil, nil
}

// List returns every stored data source's metadata.
func (s *DataSourceStore) List(ctx context.Context) ([]store.DataSource, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_id, name, content_type, size, metadata FROM data_sources ORDER BY file_id`)
	if err != nil {
		return nil, fmt.Errorf("pgblob: list files: %w", err)
	}
	defer rows.Close()

	var out []store.DataSource
	for rows.Next() {
		var ds store.DataSource
		var metaJSON []byte
		if err := rows.Scan(&ds.FileID, &ds.Name, &ds.ContentType, &ds.Size, &metaJSON); err != nil {
			return nil, fmt.Errorf("pgblob: scan file: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &ds.Metadata)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// Delete removes a data source's metadata row.
func (s *DataSourceStore) Delete(ctx context.Context, fileID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM data_sources WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("pgblob: delete file: %w", err)
	}
	return nil
}

// LocalBlobStorage persists blob bytes under a root directory on the local
// filesystem. It is the reference BlobStorage implementation, intended for
// single-node deployments or local development; swap in an S3-backed
// implementation for production multi-node deployments.
type LocalBlobStorage struct {
	root string
}

// NewLocalBlobStorage constructs a LocalBlobStorage rooted at dir, creating
// it if necessary.
func NewLocalBlobStorage(dir string) (*LocalBlobStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pgblob: create blob root: %w", err)
	}
	return &LocalBlobStorage{root: dir}, nil
}

func (l *LocalBlobStorage) path(fileID string) string {
	return filepath.Join(l.root, filepath.Base(fileID))
}

// Save writes blob to disk under fileID.
func (l *LocalBlobStorage) Save(ctx context.Context, blob []byte, fileID, name string) (store.FileStoreMetadata, error) {
	if err := os.WriteFile(l.path(fileID), blob, 0o644); err != nil {
		return store.FileStoreMetadata{}, fmt.Errorf("pgblob: save blob: %w", err)
	}
	return store.FileStoreMetadata{FileID: fileID, Name: name, Size: int64(len(blob)), URI: "file://" + l.path(fileID)}, nil
}

// Get reads blob bytes back from disk.
func (l *LocalBlobStorage) Get(ctx context.Context, meta store.FileStoreMetadata) ([]byte, error) {
	blob, err := os.ReadFile(l.path(meta.FileID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgblob: get blob: %w", err)
	}
	return blob, nil
}

// Delete removes the blob's file from disk.
func (l *LocalBlobStorage) Delete(ctx context.Context, meta store.FileStoreMetadata) error {
	err := os.Remove(l.path(meta.FileID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pgblob: delete blob: %w", err)
	}
	return nil
}

// PresignedURL returns a local file:// URI. There is no authorization model
// for local-filesystem access; the method exists to satisfy
// store.BlobStorage for parity with cloud-backed implementations.
func (l *LocalBlobStorage) PresignedURL(ctx context.Context, fileID string, method store.BlobStorageMethod) (string, error) {
	return "file://" + l.path(fileID), nil
}
