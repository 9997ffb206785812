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

// Package retrieval implements the hybrid retrieval engine: blended
// scoring across semantic, structured, and graph signals with
// partial-result diagnostics, persona weighting, finance projection,
// and optional narrative synthesis.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/graph"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/portfolio"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// DefaultLimit bounds a retrieval when the caller does not.
const DefaultLimit = 10

// overFetch widens the vector query so the score cutoff and offset do
// not starve the page.
const overFetch = 3

// Engine plans and executes hybrid retrievals.
type Engine struct {
	vectors  vector.Store
	embedder embedding.Engine
	series   *timeseries.Store
	graph    *graph.Store
	folios   *portfolio.Projector
	cache    *cache.Cache
	model    llm.Provider
	personas map[string]types.PersonaWeights
	logger   *zap.Logger
}

// Options are the optional collaborators; any of them may be nil and
// the engine degrades to partial results with diagnostics.
type Options struct {
	Graph      *graph.Store
	Portfolios *portfolio.Projector
	Cache      *cache.Cache
	Model      llm.Provider
	Personas   map[string]types.PersonaWeights
}

// New builds a retrieval engine.
func New(vectors vector.Store, embedder embedding.Engine, series *timeseries.Store, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	personas := opts.Personas
	if personas == nil {
		personas = map[string]types.PersonaWeights{}
	}
	return &Engine{
		vectors:  vectors,
		embedder: embedder,
		series:   series,
		graph:    opts.Graph,
		folios:   opts.Portfolios,
		cache:    opts.Cache,
		model:    opts.Model,
		personas: personas,
		logger:   logger,
	}
}

// Retrieve executes a hybrid retrieval. Downstream failures on optional
// branches degrade to partial results; only embedding or vector-store
// failures on a queried retrieval fail the call.
func (e *Engine) Retrieve(ctx context.Context, req types.RetrievalRequest) (*types.RetrievalResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	result := &types.RetrievalResult{Diagnostics: types.Diagnostics{}}

	scored, total, err := e.semanticBranch(ctx, req, result.Diagnostics)
	if err != nil {
		return nil, err
	}
	result.Total = total

	e.graphBranch(ctx, scored, result.Diagnostics)

	for i := range scored {
		s := &scored[i]
		s.FinalScore = types.WeightSemantic*s.SemanticScore +
			types.WeightStructured*s.StructuredHit +
			types.WeightGraph*s.GraphProximity
	}

	// Query-less retrievals sort by time; the cutoff applies only when
	// there is a semantic signal to cut on.
	if req.Query != "" {
		kept := scored[:0]
		for _, s := range scored {
			if s.FinalScore >= types.ScoreCutoff {
				kept = append(kept, s)
			}
		}
		scored = kept
	}

	persona := e.applyPersona(req, scored)
	result.Persona = persona

	if req.Query != "" {
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].FinalScore > scored[j].FinalScore })
	} else {
		oldest := req.Options.Sort == types.SortOldest
		sort.SliceStable(scored, func(i, j int) bool {
			if oldest {
				return scored[i].Memory.CreatedAt.Before(scored[j].Memory.CreatedAt)
			}
			return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
		})
	}

	scored = page(scored, req.Offset, req.Limit)
	e.temporalBranch(ctx, scored, result.Diagnostics)
	result.Memories = scored

	e.touch(ctx, scored)

	if e.folios != nil && IsFinanceQuery(req.Query) {
		if fin, err := e.financeProjection(ctx, req.UserID); err != nil {
			result.Diagnostics["finance"] = "unavailable"
			e.logger.Warn("Finance projection failed", zap.Error(err))
		} else {
			result.Finance = fin
		}
	}

	if req.Options.Synthesize && req.Query != "" {
		synthesis, err := e.Synthesize(ctx, req.UserID, req.Query, scored)
		if err != nil {
			result.Diagnostics["synthesis"] = "unavailable"
			e.logger.Warn("Synthesis failed", zap.Error(err))
		} else {
			result.Synthesis = synthesis
		}
	}

	if len(result.Diagnostics) == 0 {
		result.Diagnostics = nil
	}
	return result, nil
}

// RetrieveStructured buckets hybrid results by memory layer.
func (e *Engine) RetrieveStructured(ctx context.Context, req types.RetrievalRequest) (map[types.Layer][]types.ScoredMemory, *types.RetrievalResult, error) {
	result, err := e.Retrieve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	buckets := make(map[types.Layer][]types.ScoredMemory)
	for _, s := range result.Memories {
		buckets[s.Memory.Layer] = append(buckets[s.Memory.Layer], s)
	}
	return buckets, result, nil
}

// semanticBranch runs the vector query (or a filtered scan when no
// query is supplied) and attaches semantic and structured scores.
func (e *Engine) semanticBranch(ctx context.Context, req types.RetrievalRequest, diags types.Diagnostics) ([]types.ScoredMemory, int, error) {
	filter := vector.Filter{
		UserID: req.UserID,
		Layer:  req.Filters.Layer,
		Type:   req.Filters.Type,
		Tag:    req.Filters.Tag,
		From:   req.Filters.From,
		To:     req.Filters.To,
	}
	structured := 0.0
	if !req.Filters.Empty() {
		// The vector filter already enforced every supplied constraint.
		structured = 1.0
	}

	if req.Query == "" {
		recs, total, err := e.vectors.Scan(ctx, filter, 0, (req.Offset+req.Limit)*overFetch)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: vector scan: %v", types.ErrStorage, err)
		}
		scored := make([]types.ScoredMemory, 0, len(recs))
		for _, rec := range recs {
			scored = append(scored, types.ScoredMemory{
				Memory:        vector.MemoryFromRecord(rec),
				StructuredHit: structured,
			})
		}
		return scored, total, nil
	}

	emb, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query embedding: %v", types.ErrEmbedding, err)
	}

	topK := (req.Offset + req.Limit) * overFetch
	hits, err := e.vectors.Query(ctx, emb, filter, topK)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: vector query: %v", types.ErrStorage, err)
	}
	total, err := e.vectors.Count(ctx, filter)
	if err != nil {
		diags["total"] = "estimated"
		total = len(hits)
	}

	scored := make([]types.ScoredMemory, 0, len(hits))
	for _, hit := range hits {
		scored = append(scored, types.ScoredMemory{
			Memory:        vector.MemoryFromRecord(hit.Record),
			SemanticScore: 1 - hit.Distance,
			StructuredHit: structured,
		})
	}
	return scored, total, nil
}

// graphBranch scores relation proximity using the top semantic hits as
// seeds. Degrades to zero scores with a diagnostic when the graph
// adapter is absent or its store is down.
func (e *Engine) graphBranch(ctx context.Context, scored []types.ScoredMemory, diags types.Diagnostics) {
	if e.graph == nil {
		diags["graph"] = "unavailable"
		return
	}
	if len(scored) == 0 {
		return
	}
	seeds := make([]string, 0, len(scored))
	for i, s := range scored {
		if i >= 5 {
			break
		}
		seeds = append(seeds, s.Memory.ID)
	}
	proximity, err := e.graph.Proximity(ctx, seeds)
	if err != nil {
		diags["graph"] = "unavailable"
		e.logger.Warn("Graph branch skipped", zap.Error(err))
		return
	}
	for i := range scored {
		if p, ok := proximity[scored[i].Memory.ID]; ok {
			scored[i].GraphProximity = p
		}
	}
}

// temporalBranch re-attaches episodic projections from the time-series
// store to the memories on the returned page, and reports the store's
// availability. An absent or unreachable store degrades to the
// vector-store view with a diagnostic.
func (e *Engine) temporalBranch(ctx context.Context, scored []types.ScoredMemory, diags types.Diagnostics) {
	if e.series == nil {
		diags["temporal"] = "unavailable"
		return
	}

	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		if s.Memory.Layer == types.LayerEpisodic {
			ids = append(ids, s.Memory.ID)
		}
	}
	if len(ids) == 0 {
		if status := e.series.Health(ctx); !status.OK {
			diags["temporal"] = "unavailable"
		}
		return
	}

	rows, err := e.series.GetEpisodic(ctx, ids)
	if err != nil {
		diags["temporal"] = "unavailable"
		e.logger.Warn("Temporal branch skipped", zap.Error(err))
		return
	}
	byID := make(map[string]timeseries.EpisodicRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for i := range scored {
		r, ok := byID[scored[i].Memory.ID]
		if !ok {
			continue
		}
		scored[i].Memory.Episodic = &types.EpisodicFields{
			EventTimestamp:   r.TS,
			EventType:        r.EventType,
			Location:         r.Location,
			Participants:     r.Participants,
			EmotionalValence: r.Valence,
			EmotionalArousal: r.Arousal,
			ImportanceScore:  r.Importance,
		}
	}
}

// touch bumps access counts on returned memories, best-effort.
func (e *Engine) touch(ctx context.Context, scored []types.ScoredMemory) {
	now := time.Now().UTC()
	for i := range scored {
		m := scored[i].Memory
		m.Touch(now)
		scored[i].Memory = m
		if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(&m)); err != nil {
			e.logger.Debug("Access-count touch failed",
				zap.String("memory_id", m.ID),
				zap.Error(err))
			return
		}
	}
}

func (e *Engine) financeProjection(ctx context.Context, userID string) (*types.FinanceProjection, error) {
	summary, err := e.folios.Summarize(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &types.FinanceProjection{
		Holdings:   summary.Holdings,
		TotalValue: summary.TotalValue,
		AsOf:       summary.AsOf,
	}, nil
}

// page applies offset+limit to an already-sorted slice.
func page(scored []types.ScoredMemory, offset, limit int) []types.ScoredMemory {
	if offset >= len(scored) {
		return nil
	}
	scored = scored[offset:]
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// EpisodicWindow serves pure time-series scans with cursor pagination:
// the cursor is the unix timestamp of the last row returned.
func (e *Engine) EpisodicWindow(ctx context.Context, userID string, from, to time.Time, cursor int64, limit int) ([]timeseries.EpisodicRow, int64, error) {
	if cursor > 0 && (to.IsZero() || cursor < to.Unix()) {
		to = time.Unix(cursor-1, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	rows, err := e.series.RangeEpisodic(ctx, userID, from, to, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: temporal scan: %v", types.ErrUnavailable, err)
	}
	var next int64
	if len(rows) == limit && limit > 0 {
		next = rows[len(rows)-1].TS.Unix()
	}
	return rows, next, nil
}
