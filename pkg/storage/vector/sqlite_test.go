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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/types"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(),
		filepath.Join(t.TempDir(), "vectors.db"), 3, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id, userID string, emb []float32, layer types.Layer, age time.Duration) Record {
	created := time.Now().UTC().Add(-age).Truncate(time.Second)
	return Record{
		ID:        id,
		Embedding: emb,
		Document:  "doc " + id,
		Metadata: map[string]any{
			"user_id": userID,
			"layer":   string(layer),
			"type":    string(types.TypeExplicit),
		},
		CreatedAt: created,
	}
}

func TestSQLite_UpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	rec := record("mem_a", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 0)
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, []string{"mem_a", "mem_missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc mem_a", got[0].Document)
	assert.Equal(t, rec.Embedding, got[0].Embedding)
	assert.Equal(t, "user-1", MetaString(got[0].Metadata, "user_id"))

	// Upsert replaces in place.
	rec.Document = "updated"
	require.NoError(t, s.Upsert(ctx, rec))
	got, err = s.Get(ctx, []string{"mem_a"})
	require.NoError(t, err)
	assert.Equal(t, "updated", got[0].Document)

	require.NoError(t, s.Delete(ctx, "mem_a"))
	got, err = s.Get(ctx, []string{"mem_a"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, s.Delete(ctx, "mem_a"), "deleting a missing id is quiet")
}

func TestSQLite_RejectsWrongDimension(t *testing.T) {
	s := setupSQLite(t)
	err := s.Upsert(context.Background(),
		record("mem_a", "user-1", []float32{1, 0}, types.LayerSemantic, 0))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSQLite_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	require.NoError(t, s.Upsert(ctx, record("mem_close", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 0)))
	require.NoError(t, s.Upsert(ctx, record("mem_far", "user-1", []float32{0, 1, 0}, types.LayerSemantic, 0)))
	require.NoError(t, s.Upsert(ctx, record("mem_other", "user-2", []float32{1, 0, 0}, types.LayerSemantic, 0)))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, Filter{UserID: "user-1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mem_close", hits[0].Record.ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, "mem_far", hits[1].Record.ID)
	assert.InDelta(t, 1.0, hits[1].Distance, 1e-6)

	hits, err = s.Query(ctx, []float32{1, 0, 0}, Filter{UserID: "user-1"}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "topK truncates")
}

func TestSQLite_QueryLayerFilter(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	require.NoError(t, s.Upsert(ctx, record("mem_s", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 0)))
	require.NoError(t, s.Upsert(ctx, record("mem_e", "user-1", []float32{1, 0, 0}, types.LayerEpisodic, 0)))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, Filter{UserID: "user-1", Layer: types.LayerEpisodic}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem_e", hits[0].Record.ID)
}

func TestSQLite_ScanPagination(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	require.NoError(t, s.Upsert(ctx, record("mem_1", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 3*time.Hour)))
	require.NoError(t, s.Upsert(ctx, record("mem_2", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 2*time.Hour)))
	require.NoError(t, s.Upsert(ctx, record("mem_3", "user-1", []float32{1, 0, 0}, types.LayerSemantic, time.Hour)))

	recs, total, err := s.Scan(ctx, Filter{UserID: "user-1"}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "mem_3", recs[0].ID, "newest first")

	recs, total, err = s.Scan(ctx, Filter{UserID: "user-1"}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 1)
	assert.Equal(t, "mem_1", recs[0].ID)

	recs, _, err = s.Scan(ctx, Filter{UserID: "user-1"}, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, recs)

	n, err := s.Count(ctx, Filter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLite_TimeWindowFilter(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	require.NoError(t, s.Upsert(ctx, record("mem_old", "user-1", []float32{1, 0, 0}, types.LayerSemantic, 72*time.Hour)))
	require.NoError(t, s.Upsert(ctx, record("mem_new", "user-1", []float32{1, 0, 0}, types.LayerSemantic, time.Hour)))

	from := time.Now().UTC().Add(-24 * time.Hour)
	recs, _, err := s.Scan(ctx, Filter{UserID: "user-1", From: &from}, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "mem_new", recs[0].ID)
}

func TestSQLite_Health(t *testing.T) {
	s := setupSQLite(t)
	status := s.Health(context.Background())
	assert.True(t, status.OK)
}
