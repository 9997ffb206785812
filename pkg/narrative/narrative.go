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

// Package narrative builds prose narratives from a time-bounded slice
// of a user's memories: retrieve, cluster into chapters by temporal
// proximity and tag overlap, then synthesize.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// chapterGap starts a new chapter when consecutive memories are farther
// apart than this and share no tags.
const chapterGap = 72 * time.Hour

// memoryBudget bounds how many memories feed one narrative.
const memoryBudget = 50

const narrativeSystem = `You write a short first-person-observer narrative about a user from their memories, organized chronologically.
Ground every statement in the provided memories. When you bridge a gap with an inference, mark it "(inferred)".
Write flowing prose, not a list.`

// Request is a narrative query.
type Request struct {
	UserID string     `json:"user_id"`
	Query  string     `json:"query,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

// Chapter is one temporally coherent cluster.
type Chapter struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Memories []types.Memory `json:"memories"`
}

// Narrative is the builder's response.
type Narrative struct {
	Text        string            `json:"narrative"`
	Chapters    []Chapter         `json:"chapters"`
	MemoryCount int               `json:"memory_count"`
	Diagnostics types.Diagnostics `json:"diagnostics,omitempty"`
}

// Builder composes retrieval and synthesis.
type Builder struct {
	retriever *retrieval.Engine
	model     llm.Provider
	logger    *zap.Logger
}

// New builds a narrative builder.
func New(retriever *retrieval.Engine, model llm.Provider, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{retriever: retriever, model: model, logger: logger}
}

// Build retrieves episodic, semantic, and procedural memories in the
// window, clusters them into chapters, and synthesizes the narrative.
func (b *Builder) Build(ctx context.Context, req Request) (*Narrative, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}

	var memories []types.Memory
	diags := types.Diagnostics{}
	for _, layer := range []types.Layer{types.LayerEpisodic, types.LayerSemantic, types.LayerProcedural} {
		res, err := b.retriever.Retrieve(ctx, types.RetrievalRequest{
			UserID: req.UserID,
			Query:  req.Query,
			Filters: types.RetrievalFilters{
				Layer: layer,
				From:  req.From,
				To:    req.To,
			},
			Limit: memoryBudget / 3,
		})
		if err != nil {
			diags[string(layer)] = "unavailable"
			b.logger.Warn("Narrative branch skipped",
				zap.String("layer", string(layer)),
				zap.Error(err))
			continue
		}
		for _, s := range res.Memories {
			memories = append(memories, s.Memory)
		}
	}
	if len(memories) == 0 {
		n := &Narrative{Text: "", Chapters: nil}
		if len(diags) > 0 {
			n.Diagnostics = diags
		}
		return n, nil
	}

	sort.Slice(memories, func(i, j int) bool {
		return memoryTime(memories[i]).Before(memoryTime(memories[j]))
	})
	chapters := Cluster(memories)

	text, err := b.synthesize(ctx, chapters)
	if err != nil {
		return nil, err
	}

	n := &Narrative{
		Text:        text,
		Chapters:    chapters,
		MemoryCount: len(memories),
	}
	if len(diags) > 0 {
		n.Diagnostics = diags
	}
	return n, nil
}

// Cluster groups time-ordered memories into chapters: a new chapter
// starts when the gap exceeds chapterGap and no tags carry over.
func Cluster(memories []types.Memory) []Chapter {
	var chapters []Chapter
	for _, m := range memories {
		t := memoryTime(m)
		if len(chapters) > 0 {
			last := &chapters[len(chapters)-1]
			if t.Sub(last.To) <= chapterGap || sharesTag(last.Memories, m) {
				last.Memories = append(last.Memories, m)
				if t.After(last.To) {
					last.To = t
				}
				continue
			}
		}
		chapters = append(chapters, Chapter{From: t, To: t, Memories: []types.Memory{m}})
	}
	return chapters
}

func (b *Builder) synthesize(ctx context.Context, chapters []Chapter) (string, error) {
	var prompt strings.Builder
	for i, ch := range chapters {
		fmt.Fprintf(&prompt, "Chapter %d (%s to %s):\n",
			i+1, ch.From.Format("2006-01-02"), ch.To.Format("2006-01-02"))
		for _, m := range ch.Memories {
			fmt.Fprintf(&prompt, "- [%s] %s\n", m.Layer, m.Content)
		}
	}

	resp, err := b.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: narrativeSystem},
		{Role: "user", Content: prompt.String()},
	})
	if err != nil {
		return "", fmt.Errorf("narrative synthesis failed: %w", err)
	}
	return resp.Content, nil
}

// memoryTime prefers the event time for episodic memories.
func memoryTime(m types.Memory) time.Time {
	if m.Episodic != nil && !m.Episodic.EventTimestamp.IsZero() {
		return m.Episodic.EventTimestamp
	}
	return m.CreatedAt
}

func sharesTag(existing []types.Memory, m types.Memory) bool {
	if len(m.Tags) == 0 {
		return false
	}
	tags := make(map[string]bool)
	for _, e := range existing {
		for _, t := range e.Tags {
			tags[t] = true
		}
	}
	for _, t := range m.Tags {
		if tags[t] {
			return true
		}
	}
	return false
}
