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

// Package persistence fans memory writes out to the vector, time-series,
// and relational stores. The vector write is required; typed-store
// writes are best-effort, retried with exponential backoff, and surfaced
// per adapter in the outcome. Failures left behind are repaired by the
// maintenance reconciliation job.
package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// Backoff policy for best-effort typed writes.
const (
	retryAttempts = 3
	retryInitial  = 100 * time.Millisecond
	retryFactor   = 2
	retryCap      = 2 * time.Second
)

// TypedWriter is the slice of the relational typed store the
// orchestrator needs.
type TypedWriter interface {
	UpsertProcedural(ctx context.Context, m *types.Memory) error
	DeleteProcedural(ctx context.Context, id string) error
}

// PortfolioWriter applies a holding attached to a memory.
type PortfolioWriter interface {
	ApplyHolding(ctx context.Context, userID string, h *types.PortfolioHolding) error
}

// GraphUnlinker severs relation edges on delete. Optional.
type GraphUnlinker interface {
	Unlink(ctx context.Context, id string) error
}

// Orchestrator coordinates the fan-out.
type Orchestrator struct {
	vectors    vector.Store
	series     *timeseries.Store
	typed      TypedWriter
	portfolios PortfolioWriter
	graph      GraphUnlinker
	logger     *zap.Logger
}

// New builds an orchestrator. portfolios and graph may be nil.
func New(vectors vector.Store, series *timeseries.Store, typed TypedWriter, portfolios PortfolioWriter, graph GraphUnlinker, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		vectors:    vectors,
		series:     series,
		typed:      typed,
		portfolios: portfolios,
		graph:      graph,
		logger:     logger,
	}
}

// Persist writes one memory. The vector write goes first and is
// required; when it fails no typed write is attempted and the outcome
// carries a STORAGE_ERROR. Typed writes then run serially, each retried
// with backoff before being surfaced as failed.
func (o *Orchestrator) Persist(ctx context.Context, m *types.Memory) (types.PersistenceOutcome, error) {
	outcome := types.PersistenceOutcome{MemoryID: m.ID}

	plan := PlanFor(m)
	plan.Stamp(m)

	start := time.Now()
	err := o.vectors.Upsert(ctx, vector.RecordFromMemory(m))
	outcome.Outcomes = append(outcome.Outcomes, adapterOutcome(types.AdapterVector, start, err))
	if err != nil {
		o.logger.Error("Vector write failed",
			zap.String("memory_id", m.ID),
			zap.Error(err))
		return outcome, fmt.Errorf("%w: vector write for %s: %v", types.ErrStorage, m.ID, err)
	}

	if plan.Episodic {
		outcome.Outcomes = append(outcome.Outcomes,
			o.bestEffort(ctx, types.AdapterEpisodic, m.ID, func(ctx context.Context) error {
				return o.series.InsertEpisodic(ctx, m)
			}))
	}
	if plan.Emotional {
		outcome.Outcomes = append(outcome.Outcomes,
			o.bestEffort(ctx, types.AdapterEmotional, m.ID, func(ctx context.Context) error {
				return o.series.InsertEmotional(ctx, m)
			}))
	}
	if plan.Procedural {
		outcome.Outcomes = append(outcome.Outcomes,
			o.bestEffort(ctx, types.AdapterProcedural, m.ID, func(ctx context.Context) error {
				return o.typed.UpsertProcedural(ctx, m)
			}))
	}
	if plan.Portfolio && o.portfolios != nil {
		outcome.Outcomes = append(outcome.Outcomes,
			o.bestEffort(ctx, types.AdapterPortfolio, m.ID, func(ctx context.Context) error {
				return o.portfolios.ApplyHolding(ctx, m.UserID, m.Holding)
			}))
	}

	if failed := outcome.Failed(); len(failed) > 0 {
		o.logger.Warn("Typed writes degraded",
			zap.String("memory_id", m.ID),
			zap.Strings("failed", failed))
	}
	return outcome, nil
}

// PersistBatch persists memories serially, preserving order within a
// flush. A vector failure on one memory does not stop the rest.
func (o *Orchestrator) PersistBatch(ctx context.Context, memories []*types.Memory) ([]types.PersistenceOutcome, error) {
	outcomes := make([]types.PersistenceOutcome, 0, len(memories))
	for _, m := range memories {
		out, err := o.Persist(ctx, m)
		outcomes = append(outcomes, out)
		if err != nil && ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
	}
	return outcomes, nil
}

// Delete removes a memory for its owner: the vector row first, then
// best-effort typed rows consulting the stored_in_* routing flags. A
// user id mismatch is a FORBIDDEN error and nothing is touched.
func (o *Orchestrator) Delete(ctx context.Context, id, userID string) error {
	recs, err := o.vectors.Get(ctx, []string{id})
	if err != nil {
		return fmt.Errorf("%w: lookup for delete: %v", types.ErrStorage, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	rec := recs[0]
	if owner := vector.MetaString(rec.Metadata, "user_id"); owner != userID {
		return fmt.Errorf("%w: memory %s belongs to another user", types.ErrForbidden, id)
	}

	if err := o.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: vector delete for %s: %v", types.ErrStorage, id, err)
	}

	if vector.MetaBool(rec.Metadata, types.MetaStoredInEpisodic) {
		if err := o.series.Delete(ctx, timeseries.TableEpisodic, id); err != nil {
			o.logger.Warn("Episodic delete failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	if vector.MetaBool(rec.Metadata, types.MetaStoredInEmotional) {
		if err := o.series.Delete(ctx, timeseries.TableEmotional, id); err != nil {
			o.logger.Warn("Emotional delete failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	if vector.MetaBool(rec.Metadata, types.MetaStoredInProcedural) {
		if err := o.typed.DeleteProcedural(ctx, id); err != nil {
			o.logger.Warn("Procedural delete failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	if o.graph != nil {
		if err := o.graph.Unlink(ctx, id); err != nil {
			o.logger.Warn("Edge unlink failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	return nil
}

// bestEffort runs a typed write with retry and backoff, converting the
// final error into an adapter outcome instead of a request failure.
func (o *Orchestrator) bestEffort(ctx context.Context, adapter, memoryID string, write func(ctx context.Context) error) types.AdapterOutcome {
	start := time.Now()

	var err error
	delay := retryInitial
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = write(ctx); err == nil {
			break
		}
		if attempt == retryAttempts || ctx.Err() != nil {
			break
		}
		o.logger.Debug("Retrying typed write",
			zap.String("adapter", adapter),
			zap.String("memory_id", memoryID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
		}
		if delay *= retryFactor; delay > retryCap {
			delay = retryCap
		}
	}

	return adapterOutcome(adapter, start, err)
}

func adapterOutcome(adapter string, start time.Time, err error) types.AdapterOutcome {
	out := types.AdapterOutcome{
		Adapter:   adapter,
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		out.ErrorKind = types.KindOf(err)
		out.Error = err.Error()
	}
	return out
}
