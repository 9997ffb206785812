// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// SQLiteStore is the embedded vector backend. Embeddings are stored
// JSON-encoded and similarity is computed in-process, which is adequate
// for per-user corpora of tens of thousands of memories.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewSQLiteStore opens (or creates) the embedded vector database.
func NewSQLiteStore(ctx context.Context, path string, dimensions int, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL readers share the page cache

	s := &SQLiteStore{db: db, dimensions: dimensions, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		document TEXT NOT NULL,
		embedding TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_user ON vectors(user_id);
	CREATE INDEX IF NOT EXISTS idx_vectors_created ON vectors(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Upsert inserts or replaces a record keyed on id.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != s.dimensions {
		return fmt.Errorf("%w: embedding dimension %d does not match configured %d",
			types.ErrValidation, len(rec.Embedding), s.dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := NormalizeMetadata(rec.Metadata)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	embJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vectors (id, user_id, document, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, MetaString(meta, "user_id"), rec.Document, string(embJSON), string(metaJSON), createdAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Delete removes a record by id. Deleting a missing id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// Get fetches records by id; missing ids are skipped.
func (s *SQLiteStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, document, embedding, metadata, created_at FROM vectors WHERE id = ?`, id)
		rec, err := scanRecord(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get vector %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		embJSON   string
		metaJSON  string
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Document, &embJSON, &metaJSON, &createdAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(embJSON), &rec.Embedding); err != nil {
		return Record{}, fmt.Errorf("corrupt embedding for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("corrupt metadata for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

// Query returns the topK closest records by cosine distance, after
// applying the filter.
func (s *SQLiteStore) Query(ctx context.Context, emb []float32, filter Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryRows(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable vector row", zap.Error(err))
			continue
		}
		if !matches(rec, filter) {
			continue
		}
		dist, err := embedding.CosineDistance(emb, rec.Embedding)
		if err != nil {
			s.logger.Warn("Skipping vector with mismatched dimension",
				zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		hits = append(hits, Hit{Record: rec, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}

	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *SQLiteStore) queryRows(ctx context.Context, filter Filter) (*sql.Rows, error) {
	// Narrow by user in SQL; remaining constraints apply via matches().
	if filter.UserID != "" {
		return s.db.QueryContext(ctx,
			`SELECT id, document, embedding, metadata, created_at FROM vectors WHERE user_id = ? ORDER BY created_at DESC`,
			filter.UserID)
	}
	return s.db.QueryContext(ctx,
		`SELECT id, document, embedding, metadata, created_at FROM vectors ORDER BY created_at DESC`)
}

// Scan pages through records matching the filter, newest first, and
// returns the filtered total alongside.
func (s *SQLiteStore) Scan(ctx context.Context, filter Filter, offset, limit int) ([]Record, int, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryRows(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var all []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			continue
		}
		if matches(rec, filter) {
			all = append(all, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("vector scan failed: %w", err)
	}

	total := len(all)
	if offset >= total {
		return []Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Count returns the number of records matching the filter.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	_, total, err := s.Scan(ctx, filter, 0, 1)
	return total, err
}

// Health probes the database with a trivial query.
func (s *SQLiteStore) Health(ctx context.Context) types.HealthStatus {
	start := time.Now()
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	status := types.HealthStatus{
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
