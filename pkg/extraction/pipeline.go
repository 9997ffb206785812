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

// Package extraction is the ingestion pipeline: worthiness filtering,
// context retrieval, LLM extraction, classification, enrichment,
// deduplication, and hand-off to the persistence orchestrator.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/persistence"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// digestLimit bounds the existing-memories digest passed to the model.
const digestLimit = 5

// dedupeSimilarity merges same-extraction candidates at or above this
// cosine similarity when they share a layer.
const dedupeSimilarity = 0.95

// Request is one extraction job.
type Request struct {
	UserID   string         `json:"user_id"`
	History  []Turn         `json:"history"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Source   types.Source   `json:"source,omitempty"`
}

// Result aggregates the pipeline outcome.
type Result struct {
	Memories []*types.Memory            `json:"memories"`
	Outcomes []types.PersistenceOutcome `json:"outcomes,omitempty"`
	Counters types.ExtractionCounters   `json:"counters"`
	Worthy   bool                       `json:"worthy"`
	Reason   string                     `json:"reason,omitempty"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	model     llm.Provider
	embedder  embedding.Engine
	retriever *retrieval.Engine
	persister *persistence.Orchestrator
	logger    *zap.Logger
}

// New builds an extraction pipeline.
func New(model llm.Provider, embedder embedding.Engine, retriever *retrieval.Engine, persister *persistence.Orchestrator, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		model:     model,
		embedder:  embedder,
		retriever: retriever,
		persister: persister,
		logger:    logger,
	}
}

const extractionSystem = `You extract memories about the user from a conversation.
Return a JSON array (possibly empty). Each element:
{
  "content": "one self-contained fact, event, feeling, or skill",
  "layer": "short-term|semantic|long-term|episodic|emotional|procedural",
  "type": "explicit|implicit",
  "importance": 0.0-1.0,
  "confidence": 0.0-1.0,
  "tags": ["..."],
  "persona_tags": ["finance"|"health"|"work"|...],
  "episodic": {"event_timestamp":"RFC3339","event_type":"","location":"","participants":[],"emotional_valence":0,"emotional_arousal":0,"importance_score":0},
  "emotional": {"emotional_state":"","valence":0,"arousal":0,"dominance":0,"intensity":0,"duration_minutes":0,"trigger_event":""},
  "procedural": {"skill_name":"","proficiency_level":"beginner|intermediate|advanced|expert|master","practice_count":0,"success_rate":0,"difficulty_rating":0},
  "holding": {"ticker":"","asset_name":"","shares":0,"avg_price":0}
}
Include a typed object only when the conversation supports it.
The "Known memories" list shows what is already stored: do not repeat it, extract only new information.
Return ONLY the JSON array, no commentary.`

// Run executes the full pipeline for one flushed history.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if len(req.History) == 0 {
		return result, nil
	}
	if req.Source == "" {
		req.Source = types.SourceStorePipeline
	}

	worthiness, err := p.CheckWorthiness(ctx, req.History)
	if err != nil {
		return nil, err
	}
	result.Worthy = worthiness.Worthy
	result.Reason = worthiness.Reason
	if !worthiness.Worthy {
		return result, nil
	}

	digest, checked := p.contextDigest(ctx, req)
	result.Counters.ExistingMemoriesChecked = checked

	candidates, err := p.extract(ctx, req, digest)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	memories := make([]*types.Memory, 0, len(candidates))
	for _, c := range candidates {
		m, err := p.classify(c, req, now)
		if err != nil {
			p.logger.Debug("Candidate rejected", zap.Error(err))
			continue
		}
		p.enrich(m)
		memories = append(memories, m)
	}

	memories, dropped, err := p.dedupe(ctx, memories)
	if err != nil {
		return nil, err
	}
	result.Counters.DuplicatesAvoided = dropped

	outcomes, err := p.persister.PersistBatch(ctx, memories)
	if err != nil {
		return result, err
	}
	result.Outcomes = outcomes
	for i, out := range outcomes {
		if !out.Succeeded() {
			continue
		}
		if memories[i].AccessCount > 0 {
			result.Counters.UpdatesMade++
		} else {
			result.Counters.MemoriesCreated++
		}
	}
	result.Memories = memories
	return result, nil
}

// contextDigest retrieves up to digestLimit existing memories for the
// latest user message, to steer the model away from duplicates.
// Retrieval failure degrades to an empty digest.
func (p *Pipeline) contextDigest(ctx context.Context, req Request) (string, int) {
	query := latestUserMessage(req.History)
	if query == "" || p.retriever == nil {
		return "", 0
	}
	res, err := p.retriever.Retrieve(ctx, types.RetrievalRequest{
		UserID: req.UserID,
		Query:  query,
		Limit:  digestLimit,
	})
	if err != nil {
		p.logger.Warn("Context retrieval failed", zap.Error(err))
		return "", 0
	}
	var b strings.Builder
	for _, s := range res.Memories {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Memory.Layer, s.Memory.Content)
	}
	return b.String(), len(res.Memories)
}

// extract makes the single extraction call and parses the candidate
// array.
func (p *Pipeline) extract(ctx context.Context, req Request, digest string) ([]candidate, error) {
	prompt := renderHistory(req.History)
	if digest != "" {
		prompt = "Known memories:\n" + digest + "\nConversation:\n" + prompt
	}
	resp, err := p.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: extractionSystem},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	raw := extractJSONArray(resp.Content)
	if raw == "" {
		return nil, nil
	}
	var candidates []candidate
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		p.logger.Warn("Unparseable extraction output", zap.Error(err))
		return nil, nil
	}
	return candidates, nil
}

// dedupe embeds the batch and drops same-layer near-duplicates, keeping
// the higher-importance candidate (the earlier one on ties).
func (p *Pipeline) dedupe(ctx context.Context, memories []*types.Memory) ([]*types.Memory, int, error) {
	if len(memories) == 0 {
		return memories, 0, nil
	}
	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Content
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: batch embedding: %v", types.ErrEmbedding, err)
	}
	for i, m := range memories {
		m.Embedding = embeddings[i]
	}

	dropped := make(map[int]bool)
	for i := 0; i < len(memories); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			if dropped[j] || memories[i].Layer != memories[j].Layer {
				continue
			}
			sim, err := embedding.CosineSimilarity(memories[i].Embedding, memories[j].Embedding)
			if err != nil || sim < dedupeSimilarity {
				continue
			}
			if memories[j].Importance > memories[i].Importance {
				dropped[i] = true
				break
			}
			dropped[j] = true
		}
	}

	kept := make([]*types.Memory, 0, len(memories))
	for i, m := range memories {
		if !dropped[i] {
			kept = append(kept, m)
		}
	}
	return kept, len(dropped), nil
}

func latestUserMessage(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

// extractJSONArray pulls the first top-level JSON array out of model
// output that may be wrapped in prose or a code fence.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
