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

package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
)

func setupMigrator(t *testing.T) (*Migrator, *relational.DB) {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?cache=shared&mode=rwc&_journal_mode=WAL"
	db, err := relational.Open(ctx, "sqlite", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := New(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, db
}

func TestLoadMigrations_PairedAndOrdered(t *testing.T) {
	m, _ := setupMigrator(t)
	require.NotEmpty(t, m.migrations)
	for i, mig := range m.migrations {
		assert.NotEmpty(t, mig.UpSQL, "version %d", mig.Version)
		assert.NotEmpty(t, mig.DownSQL, "version %d", mig.Version)
		assert.NotEmpty(t, mig.Checksum, "version %d", mig.Version)
		if i > 0 {
			assert.Greater(t, mig.Version, m.migrations[i-1].Version)
		}
	}
}

func TestUp_AppliesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, db := setupMigrator(t)

	require.NoError(t, m.Up(ctx))
	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.migrations[len(m.migrations)-1].Version, version)

	// A second run applies nothing and does not fail.
	require.NoError(t, m.Up(ctx))

	// The core tables exist.
	var one int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_intents`).Scan(&one))
}

func TestDown_RollsBackLatest(t *testing.T) {
	ctx := context.Background()
	m, _ := setupMigrator(t)

	require.NoError(t, m.Up(ctx))
	before, err := m.CurrentVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Down(ctx))
	after, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Less(t, after, before)

	// Up re-applies the reverted migration.
	require.NoError(t, m.Up(ctx))
	restored, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}

func TestDown_NothingToRollBack(t *testing.T) {
	m, _ := setupMigrator(t)
	assert.Error(t, m.Down(context.Background()))
}

func TestStatuses(t *testing.T) {
	ctx := context.Background()
	m, _ := setupMigrator(t)

	statuses, err := m.Statuses(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, st := range statuses {
		assert.False(t, st.Applied)
	}

	require.NoError(t, m.Up(ctx))
	statuses, err = m.Statuses(ctx)
	require.NoError(t, err)
	for _, st := range statuses {
		assert.True(t, st.Applied, "version %d", st.Version)
	}
}

func TestChecksumMismatchDetected(t *testing.T) {
	ctx := context.Background()
	m, db := setupMigrator(t)
	require.NoError(t, m.Up(ctx))

	// Tamper with a recorded checksum.
	_, err := db.ExecContext(ctx,
		`UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1`)
	require.NoError(t, err)

	err = m.Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	m, _ := setupMigrator(t)
	require.NoError(t, m.ensureBookkeeping(ctx))
	require.NoError(t, m.acquireLock(ctx))

	// A second migrator cannot take the lock until it is cleared.
	other, err := New(m.db, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Error(t, other.acquireLock(ctx))

	require.NoError(t, other.ForceUnlock(ctx))
	assert.NoError(t, other.acquireLock(ctx))
}
