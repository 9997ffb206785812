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

// Package orchestrator buffers streaming conversation turns, flushes
// them to the extraction pipeline by policy (explicit flag, size
// threshold, or idle timeout), and returns memory injections for live
// chat with a per-conversation dedupe cache.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// Buffering policy.
const (
	// MaxBufferTurns bounds the per-conversation buffer.
	MaxBufferTurns = 32

	// FlushThreshold triggers a flush when the buffer reaches it.
	FlushThreshold = 16

	// IdleFlush flushes a conversation that has gone quiet.
	IdleFlush = 2 * time.Second

	// DedupeTTL suppresses re-injecting the same memory into the same
	// conversation.
	DedupeTTL = 10 * time.Minute

	// InjectionLimit caps injections per message.
	InjectionLimit = 5

	// idleSweep is the cadence of the background idle-flush timer.
	idleSweep = time.Second
)

// Message is one streamed turn.
type Message struct {
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Flush          bool           `json:"flush,omitempty"`
}

// Reply is the orchestrator's response to one message.
type Reply struct {
	Injections []types.ScoredMemory      `json:"injections"`
	Flushed    bool                      `json:"flushed"`
	Counters   *types.ExtractionCounters `json:"counters,omitempty"`
}

// conversation is the single-writer buffer state. Only the owning
// conversation's handler mutates it, under the conversation lock.
type conversation struct {
	mu       sync.Mutex
	userID   string
	turns    []extraction.Turn
	lastSeen time.Time
}

// Orchestrator routes streamed turns into the pipeline.
type Orchestrator struct {
	pipeline  *extraction.Pipeline
	retriever *retrieval.Engine
	cache     *cache.Cache
	logger    *zap.Logger

	mu            sync.Mutex
	conversations map[string]*conversation

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a streaming orchestrator. cache may be nil; injection
// dedupe then degrades to per-call retrieval only.
func New(pipeline *extraction.Pipeline, retriever *retrieval.Engine, c *cache.Cache, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		pipeline:      pipeline,
		retriever:     retriever,
		cache:         c,
		logger:        logger,
		conversations: make(map[string]*conversation),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the idle-flush timer.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(idleSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.flushIdle(ctx)
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop flushes every buffer and halts the timer.
func (o *Orchestrator) Stop(ctx context.Context) {
	close(o.stopCh)
	o.wg.Wait()

	o.mu.Lock()
	ids := make([]string, 0, len(o.conversations))
	for id := range o.conversations {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		if _, err := o.flush(ctx, id); err != nil {
			o.logger.Warn("Shutdown flush failed",
				zap.String("conversation_id", id),
				zap.Error(err))
		}
	}
}

// HandleMessage appends a turn, flushes when policy says so, and
// returns injections for the latest turn.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) (*Reply, error) {
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", types.ErrValidation)
	}
	userID, _ := msg.Metadata["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: metadata.user_id is required", types.ErrValidation)
	}

	conv := o.conversationFor(msg.ConversationID, userID)
	conv.mu.Lock()
	conv.turns = append(conv.turns, extraction.Turn{Role: msg.Role, Content: msg.Content})
	if len(conv.turns) > MaxBufferTurns {
		conv.turns = conv.turns[len(conv.turns)-MaxBufferTurns:]
	}
	conv.lastSeen = time.Now()
	shouldFlush := msg.Flush || len(conv.turns) >= FlushThreshold
	conv.mu.Unlock()

	reply := &Reply{}
	if shouldFlush {
		result, err := o.flush(ctx, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		reply.Flushed = true
		if result != nil {
			reply.Counters = &result.Counters
		}
	}

	if msg.Role == "user" && msg.Content != "" {
		reply.Injections = o.injections(ctx, msg.ConversationID, userID, msg.Content)
	}
	if reply.Injections == nil {
		reply.Injections = []types.ScoredMemory{}
	}
	return reply, nil
}

// HandleTranscript replays a full history through the pipeline in one
// flush.
func (o *Orchestrator) HandleTranscript(ctx context.Context, userID string, turns []extraction.Turn, metadata map[string]any) (*extraction.Result, error) {
	return o.pipeline.Run(ctx, extraction.Request{
		UserID:   userID,
		History:  turns,
		Metadata: metadata,
		Source:   types.SourceOrchestrator,
	})
}

// flush hands the buffered turns to the pipeline and clears the buffer.
// Conversations flush in the order their turns arrived; different
// conversations proceed independently.
func (o *Orchestrator) flush(ctx context.Context, conversationID string) (*extraction.Result, error) {
	o.mu.Lock()
	conv, ok := o.conversations[conversationID]
	o.mu.Unlock()
	if !ok {
		return nil, nil
	}

	conv.mu.Lock()
	turns := conv.turns
	userID := conv.userID
	conv.turns = nil
	conv.mu.Unlock()

	if len(turns) == 0 {
		return nil, nil
	}
	result, err := o.pipeline.Run(ctx, extraction.Request{
		UserID:  userID,
		History: turns,
		Source:  types.SourceOrchestrator,
	})
	if err != nil {
		o.logger.Error("Flush extraction failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return nil, err
	}
	o.logger.Debug("Conversation flushed",
		zap.String("conversation_id", conversationID),
		zap.Int("turns", len(turns)),
		zap.Int("memories", result.Counters.MemoriesCreated))
	return result, nil
}

// flushIdle flushes conversations quiet for IdleFlush or longer.
func (o *Orchestrator) flushIdle(ctx context.Context) {
	cutoff := time.Now().Add(-IdleFlush)

	o.mu.Lock()
	var due []string
	for id, conv := range o.conversations {
		conv.mu.Lock()
		if len(conv.turns) > 0 && conv.lastSeen.Before(cutoff) {
			due = append(due, id)
		}
		conv.mu.Unlock()
	}
	o.mu.Unlock()

	for _, id := range due {
		if _, err := o.flush(ctx, id); err != nil {
			o.logger.Warn("Idle flush failed",
				zap.String("conversation_id", id),
				zap.Error(err))
		}
	}
}

// injections retrieves top hits for the latest turn, suppressing
// memories already injected into this conversation within DedupeTTL.
func (o *Orchestrator) injections(ctx context.Context, conversationID, userID, query string) []types.ScoredMemory {
	res, err := o.retriever.Retrieve(ctx, types.RetrievalRequest{
		UserID: userID,
		Query:  query,
		Limit:  InjectionLimit,
	})
	if err != nil {
		o.logger.Warn("Injection retrieval failed", zap.Error(err))
		return nil
	}

	var out []types.ScoredMemory
	for _, s := range res.Memories {
		if o.seen(ctx, conversationID, s.Memory.ID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// seen checks and sets the dedupe entry for one (conversation, memory)
// pair.
func (o *Orchestrator) seen(ctx context.Context, conversationID, memoryID string) bool {
	if o.cache == nil {
		return false
	}
	key := fmt.Sprintf("inject:%s:%s", conversationID, memoryID)
	if _, err := o.cache.Get(ctx, key); err == nil {
		return true
	}
	if err := o.cache.SetEx(ctx, key, "1", DedupeTTL); err != nil {
		o.logger.Debug("Dedupe cache write failed", zap.Error(err))
	}
	return false
}

func (o *Orchestrator) conversationFor(id, userID string) *conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	conv, ok := o.conversations[id]
	if !ok {
		conv = &conversation{userID: userID}
		o.conversations[id] = conv
	}
	return conv
}
