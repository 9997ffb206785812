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

package relational

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?cache=shared&mode=rwc&_journal_mode=WAL"
	db, err := Open(ctx, "sqlite", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupClaimTable(t *testing.T, db *DB, ids ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx,
		`CREATE TABLE work_items (id TEXT PRIMARY KEY, kind TEXT NOT NULL DEFAULT 'job', claimed_at INTEGER)`)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := db.ExecContext(ctx, db.Rebind(`INSERT INTO work_items (id) VALUES (?)`), id)
		require.NoError(t, err)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	db := setupDB(t)
	status := db.Health(context.Background())
	assert.True(t, status.OK)

	require.NoError(t, db.Close())
	status = db.Health(context.Background())
	assert.False(t, status.OK)
	assert.NotEmpty(t, status.Error)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	setupClaimTable(t, db)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO work_items (id) VALUES (?)`), "w1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items`).Scan(&n))
	assert.Zero(t, n, "the insert rolled back")
}

func TestClaimRows_DisjointClaims(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	setupClaimTable(t, db, "w1", "w2", "w3")

	first, err := db.ClaimRows(ctx, "work_items", "", nil, 2, 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := db.ClaimRows(ctx, "work_items", "", nil, 2, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotContains(t, first, second[0], "a claimed row is never handed out twice")

	third, err := db.ClaimRows(ctx, "work_items", "", nil, 2, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestClaimRows_StaleClaimsAreStolen(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	setupClaimTable(t, db, "w1")

	ids, err := db.ClaimRows(ctx, "work_items", "", nil, 1, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, ids)

	// A fresh claim holds inside the TTL.
	ids, err = db.ClaimRows(ctx, "work_items", "", nil, 1, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Age the claim past the TTL; the row becomes claimable again.
	stale := time.Now().UTC().Add(-10 * time.Minute).Unix()
	_, err = db.ExecContext(ctx, db.Rebind(`UPDATE work_items SET claimed_at = ? WHERE id = ?`), stale, "w1")
	require.NoError(t, err)

	ids, err = db.ClaimRows(ctx, "work_items", "", nil, 1, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, ids)
}

func TestClaimRows_PredicateFilters(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	setupClaimTable(t, db, "w1", "w2")
	_, err := db.ExecContext(ctx, db.Rebind(`UPDATE work_items SET kind = ? WHERE id = ?`), "sweep", "w2")
	require.NoError(t, err)

	ids, err := db.ClaimRows(ctx, "work_items", "kind = ?", []any{"sweep"}, 10, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, ids)
}

func TestReleaseClaim(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	setupClaimTable(t, db, "w1")

	ids, err := db.ClaimRows(ctx, "work_items", "", nil, 1, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, db.ReleaseClaim(ctx, "work_items", "w1"))
	ids, err = db.ClaimRows(ctx, "work_items", "", nil, 1, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, ids)
}
