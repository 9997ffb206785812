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

package extraction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/persistence"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// mapEmbedder returns a per-text vector so tests control cosine
// similarity; unknown texts get an orthogonal default.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) vectorFor(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (m *mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.vectorFor(text), nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vectorFor(t)
	}
	return out, nil
}

func (m *mapEmbedder) Dimensions() int { return 3 }
func (m *mapEmbedder) Name() string    { return "map" }

// memVectorStore is a minimal in-memory vector.Store for pipeline
// hand-off assertions.
type memVectorStore struct {
	mu      sync.Mutex
	records map[string]vector.Record
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{records: make(map[string]vector.Record)}
}

func (s *memVectorStore) Upsert(ctx context.Context, rec vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}
func (s *memVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
func (s *memVectorStore) Get(ctx context.Context, ids []string) ([]vector.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vector.Record
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (s *memVectorStore) Query(ctx context.Context, embedding []float32, filter vector.Filter, topK int) ([]vector.Hit, error) {
	return nil, nil
}
func (s *memVectorStore) Scan(ctx context.Context, filter vector.Filter, offset, limit int) ([]vector.Record, int, error) {
	return nil, 0, nil
}
func (s *memVectorStore) Count(ctx context.Context, filter vector.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}
func (s *memVectorStore) Health(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true}
}
func (s *memVectorStore) Close() error { return nil }

func TestStripPII(t *testing.T) {
	assert.Equal(t, "my ssn is [REDACTED] ok", StripPII("my ssn is 123-45-6789 ok"))
	assert.Equal(t, "card [REDACTED]", StripPII("card 4111 1111 1111 1111"))
	assert.Equal(t, "call me at 555-1234", StripPII("call me at 555-1234"))
}

func TestClassify(t *testing.T) {
	p := New(nil, nil, nil, nil, zaptest.NewLogger(t))
	req := Request{UserID: "user-1", Source: types.SourceStorePipeline}
	now := time.Now().UTC()

	t.Run("happy path with clamping", func(t *testing.T) {
		m, err := p.classify(candidate{
			Content:    "prefers window seats on flights",
			Layer:      "semantic",
			Type:       "implicit",
			Importance: 1.7,
			Confidence: -0.2,
			Tags:       []string{"travel", "travel", " "},
		}, req, now)
		require.NoError(t, err)
		assert.Equal(t, 1.0, m.Importance)
		assert.Equal(t, 0.0, m.Confidence)
		assert.Equal(t, []string{"travel"}, m.Tags)
		assert.Equal(t, types.MemoryID("user-1", m.Content, now), m.ID)
		assert.Equal(t, types.SourceStorePipeline, m.Source)
	})

	t.Run("rejections", func(t *testing.T) {
		cases := []candidate{
			{Content: "", Layer: "semantic", Type: "explicit"},
			{Content: "x", Layer: "working", Type: "explicit"},
			{Content: "x", Layer: "semantic", Type: "inferred"},
			{Content: "x", Layer: "procedural", Type: "explicit",
				Procedural: &types.ProceduralFields{SkillName: "chess", ProficiencyLevel: "wizard"}},
		}
		for _, c := range cases {
			_, err := p.classify(c, req, now)
			assert.ErrorIs(t, err, types.ErrValidation, c.Layer)
		}
	})

	t.Run("pii stripped from content", func(t *testing.T) {
		m, err := p.classify(candidate{
			Content: "ssn is 123-45-6789", Layer: "semantic", Type: "explicit",
		}, req, now)
		require.NoError(t, err)
		assert.Equal(t, "ssn is [REDACTED]", m.Content)
	})

	t.Run("emotional timestamp defaults to now", func(t *testing.T) {
		m, err := p.classify(candidate{
			Content: "felt anxious before the talk", Layer: "emotional", Type: "explicit",
			Emotional: &types.EmotionalFields{EmotionalState: "anxious", Valence: -3},
		}, req, now)
		require.NoError(t, err)
		require.NotNil(t, m.Emotional)
		assert.Equal(t, now, m.Emotional.Timestamp)
		assert.Equal(t, -1.0, m.Emotional.Valence, "valence clamped to [-1,1]")
	})

	t.Run("episodic without timestamp is dropped", func(t *testing.T) {
		m, err := p.classify(candidate{
			Content: "went to a concert", Layer: "episodic", Type: "explicit",
			Episodic: &types.EpisodicFields{EventType: "concert"},
		}, req, now)
		require.NoError(t, err)
		assert.Nil(t, m.Episodic)
	})
}

func TestEnrich(t *testing.T) {
	p := New(nil, nil, nil, nil, zaptest.NewLogger(t))

	t.Run("persona tags inferred from vocabulary", func(t *testing.T) {
		m := &types.Memory{Content: "stressed about a project deadline at the gym"}
		p.enrich(m)
		assert.Contains(t, m.PersonaTags, "work")
		assert.Contains(t, m.PersonaTags, "health")
	})

	t.Run("lexical valence fallback", func(t *testing.T) {
		m := &types.Memory{
			Content:   "so stressed and anxious lately",
			Emotional: &types.EmotionalFields{EmotionalState: "stressed"},
		}
		p.enrich(m)
		assert.Equal(t, -0.8, m.Emotional.Valence)

		m = &types.Memory{
			Content:   "really happy about it",
			Emotional: &types.EmotionalFields{EmotionalState: "happy"},
		}
		p.enrich(m)
		assert.Equal(t, 0.4, m.Emotional.Valence)

		// A model-supplied valence is never overwritten.
		m = &types.Memory{
			Content:   "so happy",
			Emotional: &types.EmotionalFields{EmotionalState: "happy", Valence: 0.9},
		}
		p.enrich(m)
		assert.Equal(t, 0.9, m.Emotional.Valence)
	})

	t.Run("invalid ticker drops holding not memory", func(t *testing.T) {
		m := &types.Memory{
			Content: "bought some shares of notaticker",
			Holding: &types.PortfolioHolding{Ticker: "toolong", Shares: 10},
		}
		p.enrich(m)
		assert.Nil(t, m.Holding)
		assert.NotEmpty(t, m.Content)
	})

	t.Run("holding implies finance persona", func(t *testing.T) {
		m := &types.Memory{
			Content: "picked up 10 of that chipmaker",
			Holding: &types.PortfolioHolding{Ticker: "nvda", Shares: 10},
		}
		p.enrich(m)
		require.NotNil(t, m.Holding)
		assert.Equal(t, "NVDA", m.Holding.Ticker)
		assert.Contains(t, m.PersonaTags, "finance")
	})
}

func TestRun_FullPipeline(t *testing.T) {
	ctx := context.Background()
	vectors := newMemVectorStore()
	persister := persistence.New(vectors, nil, nil, nil, nil, zaptest.NewLogger(t))
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"moved to Lisbon":     {1, 0, 0},
		"relocated to Lisbon": {1, 0, 0},
		"prefers espresso":    {0, 1, 0},
	}}
	model := &scriptedModel{responses: []string{`[
		{"content":"moved to Lisbon","layer":"semantic","type":"explicit","importance":0.6,"confidence":0.9},
		{"content":"relocated to Lisbon","layer":"semantic","type":"explicit","importance":0.8,"confidence":0.9},
		{"content":"prefers espresso","layer":"semantic","type":"implicit","importance":0.4,"confidence":0.8}
	]`}}

	p := New(model, embedder, nil, persister, zaptest.NewLogger(t))
	result, err := p.Run(ctx, Request{
		UserID: "user-1",
		History: []Turn{
			{Role: "user", Content: "I just moved to Lisbon last month and I really only drink espresso these days"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Worthy)

	// The two Lisbon candidates collide; the higher-importance one wins.
	require.Len(t, result.Memories, 2)
	assert.Equal(t, "relocated to Lisbon", result.Memories[0].Content)
	assert.Equal(t, 1, result.Counters.DuplicatesAvoided)
	assert.Equal(t, 2, result.Counters.MemoriesCreated)
	assert.Zero(t, result.Counters.UpdatesMade)

	count, err := vectors.Count(ctx, vector.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRun_UnworthySkipsExtraction(t *testing.T) {
	model := &scriptedModel{responses: []string{`[]`}}
	p := New(model, &mapEmbedder{}, nil, nil, zaptest.NewLogger(t))

	result, err := p.Run(context.Background(), Request{
		UserID:  "user-1",
		History: turns("ok", "thanks!"),
	})
	require.NoError(t, err)
	assert.False(t, result.Worthy)
	assert.Empty(t, result.Memories)
	assert.Zero(t, model.calls)
}

func TestRun_RequiresUserID(t *testing.T) {
	p := New(nil, nil, nil, nil, zaptest.NewLogger(t))
	_, err := p.Run(context.Background(), Request{History: turns("hi")})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRun_EmptyHistory(t *testing.T) {
	p := New(nil, nil, nil, nil, zaptest.NewLogger(t))
	result, err := p.Run(context.Background(), Request{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, result.Worthy)
	assert.Empty(t, result.Memories)
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[1,2]`, extractJSONArray("here you go:\n```json\n[1,2]\n```"))
	assert.Equal(t, `[]`, extractJSONArray("[]"))
	assert.Equal(t, "", extractJSONArray("no array here"))
}
