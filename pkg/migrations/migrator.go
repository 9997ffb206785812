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

// Package migrations evolves the relational schema via numbered, paired
// up/down migrations embedded in the binary. Applied versions are
// recorded with a sha256 checksum, a lock row prevents concurrent
// migrations, and a history table records every action with timing.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationFS embed.FS

// LockTTL bounds how long a crashed migrator can hold the lock.
const LockTTL = 5 * time.Minute

// Migration is one versioned schema step.
type Migration struct {
	Version  int
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string // sha256 of UpSQL
}

// Migrator applies migrations against the relational store.
type Migrator struct {
	db         *relational.DB
	migrations []Migration
	logger     *zap.Logger
	lockID     string
}

// New loads the embedded migrations for the store's driver.
func New(db *relational.DB, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	migrations, err := loadMigrations(db.Driver())
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	return &Migrator{
		db:         db,
		migrations: migrations,
		logger:     logger,
		lockID:     fmt.Sprintf("mnemo-%d", time.Now().UnixNano()),
	}, nil
}

func loadMigrations(driver string) ([]Migration, error) {
	dir := "sql/" + driver
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		// Files are NNNN_name.up.sql / NNNN_name.down.sql.
		base, direction, ok := splitMigrationName(name)
		if !ok {
			return nil, fmt.Errorf("malformed migration filename %q", name)
		}
		parts := strings.SplitN(base, "_", 2)
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed migration version in %q", name)
		}

		content, err := fs.ReadFile(migrationFS, dir+"/"+name)
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			if len(parts) == 2 {
				m.Name = parts[1]
			}
			byVersion[version] = m
		}
		if direction == "up" {
			m.UpSQL = string(content)
			sum := sha256.Sum256(content)
			m.Checksum = hex.EncodeToString(sum[:])
		} else {
			m.DownSQL = string(content)
		}
	}

	var migrations []Migration
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d is missing its up or down half", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func splitMigrationName(name string) (base, direction string, ok bool) {
	switch {
	case strings.HasSuffix(name, ".up.sql"):
		return strings.TrimSuffix(name, ".up.sql"), "up", true
	case strings.HasSuffix(name, ".down.sql"):
		return strings.TrimSuffix(name, ".down.sql"), "down", true
	}
	return "", "", false
}

func (m *Migrator) ensureBookkeeping(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS migration_lock (
		id INTEGER PRIMARY KEY,
		locked_by TEXT NOT NULL DEFAULT '',
		locked_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS migration_history (
		version INTEGER NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create migration bookkeeping: %w", err)
		}
	}

	// Seed the singleton lock row; a conflict means it already exists.
	_, err := m.db.ExecContext(ctx,
		m.db.Rebind(`INSERT INTO migration_lock (id, locked_by, locked_at) VALUES (1, '', 0) ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("failed to seed migration lock: %w", err)
	}
	return nil
}

// acquireLock compare-and-sets the lock row. Stale locks (older than
// LockTTL) are stolen.
func (m *Migrator) acquireLock(ctx context.Context) error {
	now := time.Now().UTC()
	stale := now.Add(-LockTTL).Unix()

	res, err := m.db.ExecContext(ctx, m.db.Rebind(`
		UPDATE migration_lock SET locked_by = ?, locked_at = ?
		WHERE id = 1 AND (locked_by = '' OR locked_at < ?)`),
		m.lockID, now.Unix(), stale)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("migration lock is held by another process")
	}
	return nil
}

func (m *Migrator) releaseLock(ctx context.Context) {
	if _, err := m.db.ExecContext(ctx, m.db.Rebind(`
		UPDATE migration_lock SET locked_by = '', locked_at = 0
		WHERE id = 1 AND locked_by = ?`), m.lockID); err != nil {
		m.logger.Error("Failed to release migration lock", zap.Error(err))
	}
}

// ForceUnlock clears the lock row regardless of owner, for stale-lock
// recovery.
func (m *Migrator) ForceUnlock(ctx context.Context) error {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE migration_lock SET locked_by = '', locked_at = 0 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to force-unlock migrations: %w", err)
	}
	m.logger.Warn("Migration lock force-unlocked")
	return nil
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	return version, nil
}

func (m *Migrator) recordHistory(ctx context.Context, version int, direction, status, errMsg string, started time.Time) {
	if _, err := m.db.ExecContext(ctx, m.db.Rebind(`
		INSERT INTO migration_history (version, direction, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`),
		version, direction, status, errMsg, started.UTC().Unix(), time.Since(started).Milliseconds()); err != nil {
		m.logger.Error("Failed to record migration history", zap.Error(err))
	}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return err
	}
	if err := m.acquireLock(ctx); err != nil {
		return err
	}
	defer m.releaseLock(ctx)

	if err := m.verifyChecksums(ctx); err != nil {
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		started := time.Now()
		if err := m.apply(ctx, mig); err != nil {
			m.recordHistory(ctx, mig.Version, "up", "failed", err.Error(), started)
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		m.recordHistory(ctx, mig.Version, "up", "applied", "", started)
		m.logger.Info("Applied migration",
			zap.Int("version", mig.Version),
			zap.String("name", mig.Name))
		applied++
	}

	m.logger.Info("Migrations up to date", zap.Int("applied", applied))
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return err
	}
	if err := m.acquireLock(ctx); err != nil {
		return err
	}
	defer m.releaseLock(ctx)

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("nothing to roll back")
	}

	for _, mig := range m.migrations {
		if mig.Version != current {
			continue
		}
		started := time.Now()
		if err := m.revert(ctx, mig); err != nil {
			m.recordHistory(ctx, mig.Version, "down", "failed", err.Error(), started)
			return fmt.Errorf("rollback of %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		m.recordHistory(ctx, mig.Version, "down", "reverted", "", started)
		m.logger.Info("Reverted migration",
			zap.Int("version", mig.Version),
			zap.String("name", mig.Name))
		return nil
	}
	return fmt.Errorf("no embedded migration for applied version %d", current)
}

func (m *Migrator) verifyChecksums(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return err
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if sum, ok := applied[mig.Version]; ok && sum != mig.Checksum {
			return fmt.Errorf("migration %d checksum mismatch: applied %s, embedded %s",
				mig.Version, sum, mig.Checksum)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range splitStatements(mig.UpSQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, m.db.Rebind(`
			INSERT INTO schema_migrations (version, name, checksum, applied_at)
			VALUES (?, ?, ?, ?)`),
			mig.Version, mig.Name, mig.Checksum, time.Now().UTC().Unix())
		return err
	})
}

func (m *Migrator) revert(ctx context.Context, mig Migration) error {
	return m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range splitStatements(mig.DownSQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, m.db.Rebind(`DELETE FROM schema_migrations WHERE version = ?`), mig.Version)
		return err
	})
}

// splitStatements breaks a migration file into executable statements.
// Statements in migration files do not contain literal semicolons.
func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" && !strings.HasPrefix(stmt, "--") {
			out = append(out, stmt)
		}
	}
	return out
}

// Status describes one migration's applied state.
type Status struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// Statuses lists every embedded migration with its applied state.
func (m *Migrator) Statuses(ctx context.Context) ([]Status, error) {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(m.migrations))
	for _, mig := range m.migrations {
		statuses = append(statuses, Status{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: mig.Version <= current,
		})
	}
	return statuses, nil
}
