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

package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/migrations"
	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// fakeVectorStore keeps records in a map; failUpsert forces the
// required-write path to fail.
type fakeVectorStore struct {
	mu         sync.Mutex
	records    map[string]vector.Record
	failUpsert bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{records: make(map[string]vector.Record)}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, rec vector.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return errors.New("chroma unavailable")
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeVectorStore) Get(ctx context.Context, ids []string) ([]vector.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vector.Record
	for _, id := range ids {
		if rec, ok := f.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeVectorStore) Query(ctx context.Context, embedding []float32, filter vector.Filter, topK int) ([]vector.Hit, error) {
	return nil, nil
}

func (f *fakeVectorStore) Scan(ctx context.Context, filter vector.Filter, offset, limit int) ([]vector.Record, int, error) {
	return nil, 0, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, filter vector.Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeVectorStore) Health(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true}
}

func (f *fakeVectorStore) Close() error { return nil }

func setupDB(t *testing.T) *relational.DB {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?cache=shared&mode=rwc&_journal_mode=WAL"
	db, err := relational.Open(ctx, "sqlite", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := migrations.New(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))
	return db
}

func episodicMemory(userID string) *types.Memory {
	now := time.Now().UTC()
	m := &types.Memory{
		UserID:     userID,
		Content:    "visited the Monterey aquarium with Sam",
		Layer:      types.LayerEpisodic,
		Type:       types.TypeExplicit,
		Importance: 0.8,
		Confidence: 1,
		CreatedAt:  now,
		LastAccess: now,
		Source:     types.SourceDirectAPI,
		Embedding:  []float32{0.1, 0.2, 0.3},
		Episodic: &types.EpisodicFields{
			EventTimestamp:  now.Add(-2 * time.Hour),
			EventType:       "outing",
			Location:        "Monterey",
			Participants:    []string{"Sam"},
			ImportanceScore: 0.8,
		},
	}
	m.ID = types.MemoryID(m.UserID, m.Content, m.CreatedAt)
	return m
}

func TestPlanFor(t *testing.T) {
	m := episodicMemory("user-1")
	plan := PlanFor(m)
	assert.True(t, plan.Episodic)
	assert.False(t, plan.Emotional)
	assert.False(t, plan.Procedural)
	assert.False(t, plan.Portfolio)
	assert.True(t, plan.Any())

	bare := &types.Memory{Content: "plain fact"}
	assert.False(t, PlanFor(bare).Any())

	// An episodic block without a timestamp routes nowhere.
	m.Episodic.EventTimestamp = time.Time{}
	assert.False(t, PlanFor(m).Episodic)
}

func TestStampAndRehydrate(t *testing.T) {
	m := episodicMemory("user-1")
	plan := PlanFor(m)
	plan.Stamp(m)

	assert.Equal(t, true, m.Metadata[types.MetaStoredInEpisodic])
	assert.Equal(t, false, m.Metadata[types.MetaStoredInEmotional])

	// Round-trip through the vector record shape and rebuild the typed
	// projection from metadata alone.
	rec := vector.RecordFromMemory(m)
	rebuilt := vector.MemoryFromRecord(rec)
	require.Nil(t, rebuilt.Episodic)

	Rehydrate(&rebuilt)
	require.NotNil(t, rebuilt.Episodic)
	assert.Equal(t, "Monterey", rebuilt.Episodic.Location)
	assert.Equal(t, []string{"Sam"}, rebuilt.Episodic.Participants)
	assert.Equal(t, m.Episodic.EventTimestamp.Unix(), rebuilt.Episodic.EventTimestamp.Unix())
}

func TestPersist_EpisodicFanOut(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	series := timeseries.New(db)
	typed := relational.NewTypedStore(db)
	vectors := newFakeVectorStore()

	o := New(vectors, series, typed, nil, nil, zaptest.NewLogger(t))

	m := episodicMemory("user-1")
	outcome, err := o.Persist(ctx, m)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	require.Len(t, outcome.Outcomes, 2)
	assert.Equal(t, types.AdapterVector, outcome.Outcomes[0].Adapter)
	assert.Equal(t, types.AdapterEpisodic, outcome.Outcomes[1].Adapter)
	assert.True(t, outcome.Outcomes[1].OK)

	exists, err := series.Exists(ctx, timeseries.TableEpisodic, m.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	// Routing flags landed in the vector record.
	recs, err := vectors.Get(ctx, []string{m.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, vector.MetaBool(recs[0].Metadata, types.MetaStoredInEpisodic))
}

func TestPersist_VectorFailureSkipsTypedWrites(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	series := timeseries.New(db)
	vectors := newFakeVectorStore()
	vectors.failUpsert = true

	o := New(vectors, series, relational.NewTypedStore(db), nil, nil, zaptest.NewLogger(t))

	m := episodicMemory("user-1")
	outcome, err := o.Persist(ctx, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorage)
	require.Len(t, outcome.Outcomes, 1, "no typed write after a vector failure")
	assert.False(t, outcome.Succeeded())

	exists, err := series.Exists(ctx, timeseries.TableEpisodic, m.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPersist_ProceduralRoute(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	typed := relational.NewTypedStore(db)
	o := New(newFakeVectorStore(), timeseries.New(db), typed, nil, nil, zaptest.NewLogger(t))

	now := time.Now().UTC()
	m := &types.Memory{
		UserID: "user-1", Content: "learning sourdough baking",
		Layer: types.LayerProcedural, Type: types.TypeExplicit,
		Importance: 0.6, Confidence: 1, CreatedAt: now, LastAccess: now,
		Source:    types.SourceStorePipeline,
		Embedding: []float32{0.5},
		Procedural: &types.ProceduralFields{
			SkillName:        "sourdough baking",
			ProficiencyLevel: types.ProficiencyBeginner,
			PracticeCount:    3,
		},
	}
	m.ID = types.MemoryID(m.UserID, m.Content, now)

	outcome, err := o.Persist(ctx, m)
	require.NoError(t, err)
	require.Len(t, outcome.Outcomes, 2)
	assert.True(t, outcome.Outcomes[1].OK)

	has, err := typed.HasProcedural(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDelete_OwnershipAndRouting(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	series := timeseries.New(db)
	vectors := newFakeVectorStore()
	o := New(vectors, series, relational.NewTypedStore(db), nil, nil, zaptest.NewLogger(t))

	m := episodicMemory("user-1")
	_, err := o.Persist(ctx, m)
	require.NoError(t, err)

	// Another user cannot delete it and nothing is touched.
	err = o.Delete(ctx, m.ID, "user-2")
	assert.ErrorIs(t, err, types.ErrForbidden)
	exists, _ := series.Exists(ctx, timeseries.TableEpisodic, m.ID)
	assert.True(t, exists)

	// The owner can, and the episodic row follows the routing flag.
	require.NoError(t, o.Delete(ctx, m.ID, "user-1"))
	exists, _ = series.Exists(ctx, timeseries.TableEpisodic, m.ID)
	assert.False(t, exists)

	err = o.Delete(ctx, m.ID, "user-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPersistBatch_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	vectors := newFakeVectorStore()
	o := New(vectors, timeseries.New(db), relational.NewTypedStore(db), nil, nil, zaptest.NewLogger(t))

	good := episodicMemory("user-1")
	alsoGood := episodicMemory("user-1")
	alsoGood.Content = "second memory"
	alsoGood.ID = types.MemoryID(alsoGood.UserID, alsoGood.Content, alsoGood.CreatedAt)

	outcomes, err := o.PersistBatch(ctx, []*types.Memory{good, alsoGood})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Succeeded())
	assert.True(t, outcomes[1].Succeeded())
}
