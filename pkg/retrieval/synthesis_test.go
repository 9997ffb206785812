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

package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// fakeProvider counts calls and echoes a fixed answer.
type fakeProvider struct {
	calls  int
	answer string
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	f.calls++
	return &llm.Response{Content: f.answer}, nil
}
func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New("redis://"+mr.Addr(), time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSynthesize_CachesByQueryAndResultSet(t *testing.T) {
	ctx := context.Background()
	model := &fakeProvider{answer: "The user prefers espresso [mem_a]."}
	e := New(&fakeVectorStore{}, &fakeEmbedder{}, nil, Options{
		Model: model,
		Cache: testCache(t),
	}, zaptest.NewLogger(t))

	scored := []types.ScoredMemory{
		{Memory: types.Memory{ID: "mem_a", Content: "likes espresso", Layer: types.LayerSemantic}},
	}

	out, err := e.Synthesize(ctx, "user-1", "what coffee", scored)
	require.NoError(t, err)
	assert.Equal(t, model.answer, out)
	assert.Equal(t, 1, model.calls)

	// Identical query over the identical result set hits the cache.
	out, err = e.Synthesize(ctx, "user-1", "what coffee", scored)
	require.NoError(t, err)
	assert.Equal(t, model.answer, out)
	assert.Equal(t, 1, model.calls)

	// A different result set misses.
	scored[0].Memory.ID = "mem_b"
	_, err = e.Synthesize(ctx, "user-1", "what coffee", scored)
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
}

func TestSynthesize_NoModel(t *testing.T) {
	e := New(&fakeVectorStore{}, &fakeEmbedder{}, nil, Options{}, zaptest.NewLogger(t))
	_, err := e.Synthesize(context.Background(), "user-1", "q",
		[]types.ScoredMemory{{Memory: types.Memory{ID: "mem_a"}}})
	assert.ErrorIs(t, err, types.ErrUnavailable)
}

func TestSynthesize_EmptyResults(t *testing.T) {
	e := New(&fakeVectorStore{}, &fakeEmbedder{}, nil, Options{Model: &fakeProvider{}}, zaptest.NewLogger(t))
	out, err := e.Synthesize(context.Background(), "user-1", "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
