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

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// fakeStore serves canned hits for injections and swallows touches.
type fakeStore struct {
	mu   sync.Mutex
	hits []vector.Hit
}

func (f *fakeStore) Upsert(ctx context.Context, rec vector.Record) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, id string) error         { return nil }
func (f *fakeStore) Get(ctx context.Context, ids []string) ([]vector.Record, error) {
	return nil, nil
}
func (f *fakeStore) Query(ctx context.Context, embedding []float32, filter vector.Filter, topK int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits, nil
}
func (f *fakeStore) Scan(ctx context.Context, filter vector.Filter, offset, limit int) ([]vector.Record, int, error) {
	return nil, 0, nil
}
func (f *fakeStore) Count(ctx context.Context, filter vector.Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hits), nil
}
func (f *fakeStore) Health(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true}
}
func (f *fakeStore) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Name() string    { return "fake" }

// emptyModel answers every extraction call with an empty candidate set.
type emptyModel struct{ calls int }

func (m *emptyModel) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	m.calls++
	return &llm.Response{Content: "[]"}, nil
}
func (m *emptyModel) Name() string  { return "empty" }
func (m *emptyModel) Model() string { return "empty-model" }

func storedHit(id string) vector.Hit {
	now := time.Now().UTC()
	m := &types.Memory{
		ID: id, UserID: "user-1", Content: "content for " + id,
		Layer: types.LayerSemantic, Type: types.TypeExplicit,
		Importance: 0.5, Confidence: 1,
		CreatedAt: now, LastAccess: now,
		Source:    types.SourceStorePipeline,
		Embedding: []float32{1, 0, 0},
	}
	return vector.Hit{Record: vector.RecordFromMemory(m), Distance: 0.1}
}

func testOrchestrator(t *testing.T, store *fakeStore, c *cache.Cache) (*Orchestrator, *emptyModel) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	model := &emptyModel{}
	retriever := retrieval.New(store, fakeEmbedder{}, nil, retrieval.Options{}, logger)
	pipeline := extraction.New(model, fakeEmbedder{}, nil, nil, logger)
	return New(pipeline, retriever, c, logger), model
}

func userMessage(convID, content string) Message {
	return Message{
		ConversationID: convID,
		Role:           "user",
		Content:        content,
		Metadata:       map[string]any{"user_id": "user-1"},
	}
}

const substantiveTurn = "I moved to Lisbon last month and started a new job at a fintech startup there"

func TestHandleMessage_Validation(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeStore{}, nil)
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, Message{Role: "user", Content: "hi",
		Metadata: map[string]any{"user_id": "user-1"}})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = o.HandleMessage(ctx, Message{ConversationID: "conv-1", Role: "user", Content: "hi"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestHandleMessage_ExplicitFlush(t *testing.T) {
	o, model := testOrchestrator(t, &fakeStore{}, nil)
	ctx := context.Background()

	msg := userMessage("conv-1", substantiveTurn)
	msg.Flush = true
	reply, err := o.HandleMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, reply.Flushed)
	require.NotNil(t, reply.Counters)
	assert.Equal(t, 1, model.calls, "one extraction call per flush")

	// The buffer is cleared: another explicit flush finds nothing.
	empty := Message{ConversationID: "conv-1", Role: "assistant",
		Metadata: map[string]any{"user_id": "user-1"}, Flush: true}
	reply, err = o.HandleMessage(ctx, empty)
	require.NoError(t, err)
	assert.True(t, reply.Flushed)
	assert.Equal(t, 1, model.calls, "the lone assistant turn is unworthy, no extraction call")
}

func TestHandleMessage_ThresholdFlush(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeStore{}, nil)
	ctx := context.Background()

	for i := 0; i < FlushThreshold-1; i++ {
		reply, err := o.HandleMessage(ctx, userMessage("conv-1", fmt.Sprintf("%s (%d)", substantiveTurn, i)))
		require.NoError(t, err)
		assert.False(t, reply.Flushed)
	}
	reply, err := o.HandleMessage(ctx, userMessage("conv-1", substantiveTurn))
	require.NoError(t, err)
	assert.True(t, reply.Flushed, "the %dth turn trips the threshold", FlushThreshold)
}

// recordingModel keeps the last prompt it was handed.
type recordingModel struct {
	mu     sync.Mutex
	prompt string
}

func (m *recordingModel) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = messages[len(messages)-1].Content
	return &llm.Response{Content: "[]"}, nil
}
func (m *recordingModel) Name() string  { return "recording" }
func (m *recordingModel) Model() string { return "recording-model" }

func TestHandleMessage_BufferTrimsToMax(t *testing.T) {
	logger := zaptest.NewLogger(t)
	model := &recordingModel{}
	retriever := retrieval.New(&fakeStore{}, fakeEmbedder{}, nil, retrieval.Options{}, logger)
	o := New(extraction.New(model, fakeEmbedder{}, nil, nil, logger), retriever, nil, logger)
	ctx := context.Background()

	// Pre-fill the buffer well past the cap; the next message trims it
	// before flushing, so extraction only ever sees the newest turns.
	conv := o.conversationFor("conv-1", "user-1")
	conv.mu.Lock()
	for i := 0; i < MaxBufferTurns+8; i++ {
		conv.turns = append(conv.turns, extraction.Turn{
			Role:    "user",
			Content: fmt.Sprintf("%s marker-%02d", substantiveTurn, i),
		})
	}
	conv.mu.Unlock()

	_, err := o.HandleMessage(ctx, userMessage("conv-1", substantiveTurn+" final"))
	require.NoError(t, err)

	model.mu.Lock()
	defer model.mu.Unlock()
	assert.NotContains(t, model.prompt, "marker-00", "oldest turns trimmed")
	assert.Contains(t, model.prompt, fmt.Sprintf("marker-%02d", MaxBufferTurns+7))
}

func TestHandleMessage_InjectionDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.New("redis://"+mr.Addr(), time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	store := &fakeStore{hits: []vector.Hit{storedHit("mem_a")}}
	o, _ := testOrchestrator(t, store, c)
	ctx := context.Background()

	reply, err := o.HandleMessage(ctx, userMessage("conv-1", "what do you know about me"))
	require.NoError(t, err)
	require.Len(t, reply.Injections, 1)
	assert.Equal(t, "mem_a", reply.Injections[0].Memory.ID)

	// The same memory is suppressed on the next turn of this
	// conversation, but not in a different conversation.
	reply, err = o.HandleMessage(ctx, userMessage("conv-1", "tell me more"))
	require.NoError(t, err)
	assert.Empty(t, reply.Injections)

	reply, err = o.HandleMessage(ctx, userMessage("conv-2", "what do you know about me"))
	require.NoError(t, err)
	assert.Len(t, reply.Injections, 1)

	// After the dedupe TTL the memory may be injected again.
	mr.FastForward(DedupeTTL + time.Minute)
	reply, err = o.HandleMessage(ctx, userMessage("conv-1", "remind me"))
	require.NoError(t, err)
	assert.Len(t, reply.Injections, 1)
}

func TestStop_FlushesBuffers(t *testing.T) {
	o, model := testOrchestrator(t, &fakeStore{}, nil)
	ctx := context.Background()

	o.Start(ctx)
	_, err := o.HandleMessage(ctx, userMessage("conv-1", substantiveTurn))
	require.NoError(t, err)

	o.Stop(ctx)
	assert.Equal(t, 1, model.calls, "shutdown drains the buffer through extraction")
}

func TestHandleTranscript(t *testing.T) {
	o, model := testOrchestrator(t, &fakeStore{}, nil)

	result, err := o.HandleTranscript(context.Background(), "user-1",
		[]extraction.Turn{{Role: "user", Content: substantiveTurn}}, nil)
	require.NoError(t, err)
	assert.True(t, result.Worthy)
	assert.Equal(t, 1, model.calls)
}
