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

// Package relational is the relational-store adapter over sqlx. It
// supports the embedded sqlite driver and postgres behind the same API,
// and provides the claim primitive used by the scheduled-intent engine.
//
// All timestamps are persisted as UTC unix seconds (INTEGER columns) so
// the same SQL works on both drivers.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"        // postgres driver
	_ "modernc.org/sqlite"       // sqlite driver
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// DB wraps the sqlx pool with driver awareness.
type DB struct {
	*sqlx.DB
	driver string
	logger *zap.Logger
}

// Open connects to the relational store. driver is "sqlite" or
// "postgres"; dsn is driver-specific.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var driverName string
	switch driver {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported relational driver %q", driver)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open relational store: %w", err)
	}

	if driver == "sqlite" {
		// Serialize writers; WAL readers proceed concurrently.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping relational store: %w", err)
	}

	return &DB{DB: db, driver: driver, logger: logger}, nil
}

// Driver returns the configured driver name.
func (d *DB) Driver() string { return d.driver }

// Health probes the store with a trivial query.
func (d *DB) Health(ctx context.Context) types.HealthStatus {
	start := time.Now()
	var one int
	err := d.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	status := types.HealthStatus{
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			d.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClaimRows atomically stamps claimed_at = now on up to limit rows of
// table matching predicate whose claim is absent or older than ttl, and
// returns the claimed ids. Two workers calling concurrently never claim
// the same row within the TTL.
//
// The table must have `id` and `claimed_at` columns; predicate is a SQL
// fragment with `?` placeholders bound from args.
func (d *DB) ClaimRows(ctx context.Context, table, predicate string, args []any, limit int, ttl time.Duration) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC().Unix()
	stale := time.Now().UTC().Add(-ttl).Unix()

	if predicate == "" {
		predicate = "1=1"
	}

	// Postgres runs the subselect and the update as separate steps under
	// READ COMMITTED, so two workers can select the same ids; SKIP LOCKED
	// keeps their candidate sets disjoint, and the repeated staleness
	// check on the outer UPDATE discards rows claimed in between. Sqlite
	// serializes writers on its single connection.
	lock := ""
	if d.driver == "postgres" {
		lock = "\n\t\t\tFOR UPDATE SKIP LOCKED"
	}

	query := fmt.Sprintf(`
		UPDATE %s SET claimed_at = ?
		WHERE id IN (
			SELECT id FROM %s
			WHERE (%s) AND (claimed_at IS NULL OR claimed_at < ?)
			LIMIT %d%s
		)
		AND (claimed_at IS NULL OR claimed_at < ?)
		RETURNING id`, table, table, predicate, limit, lock)

	bound := make([]any, 0, len(args)+3)
	bound = append(bound, now)
	bound = append(bound, args...)
	bound = append(bound, stale, stale)

	rows, err := d.QueryContext(ctx, d.Rebind(query), bound...)
	if err != nil {
		return nil, fmt.Errorf("claim on %s failed: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseClaim clears claimed_at for a row, making it claimable again.
func (d *DB) ReleaseClaim(ctx context.Context, table, id string) error {
	query := d.Rebind(fmt.Sprintf(`UPDATE %s SET claimed_at = NULL WHERE id = ?`, table))
	if _, err := d.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("release claim on %s failed: %w", table, err)
	}
	return nil
}

// JoinStrings is a small helper for IN clauses built from known-safe
// identifiers.
func JoinStrings(ss []string) string { return strings.Join(ss, ", ") }

// UnixPtr converts a nullable unix-seconds column to *time.Time.
func UnixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// PtrUnix converts *time.Time to a nullable unix-seconds value.
func PtrUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}
