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

package maintenance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/graph"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/persistence"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// Forgetting-curve parameters.
const (
	// RetentionThreshold: memories whose retention falls below it are
	// archived (episodic) or have confidence scaled (semantic).
	RetentionThreshold = 0.2

	// minSignificance floors the decay time constant so zero-importance
	// memories still get a finite curve.
	minSignificance = 0.1
)

// Compaction and promotion thresholds.
const (
	compactionSimilarity = 0.95
	promotionAccessCount = 3
	promotionMinAge      = 24 * time.Hour
	consolidationCutoff  = 0.7
)

// scanBatch pages vector scans inside jobs.
const scanBatch = 200

// Retention computes the Ebbinghaus retention for a memory:
// R = exp(−t / (σ·10)) · sqrt(1 + r), with t in days since last
// access, σ the significance in (0,1], r the replay count.
func Retention(daysSinceAccess, significance float64, replayCount int) float64 {
	if significance < minSignificance {
		significance = minSignificance
	}
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}
	return math.Exp(-daysSinceAccess/(significance*10)) * math.Sqrt(1+float64(replayCount))
}

// Forget applies the forgetting curve to a user's memories. Episodic
// memories below the threshold are summarized into a semantic essence
// and archived; semantic memories have their confidence multiplied by
// the retention. Identity memories and portfolio holdings never decay.
func (e *Engine) Forget(ctx context.Context, userID string) (int, error) {
	affected := 0
	now := time.Now().UTC()

	err := e.scanUser(ctx, userID, func(m types.Memory) error {
		switch m.Layer {
		case types.LayerIdentity:
			return nil
		}
		if m.Holding != nil || vector.MetaBool(toMeta(m), "stored_in_portfolio") {
			return nil
		}

		last := m.LastAccess
		if last.IsZero() {
			last = m.CreatedAt
		}
		days := now.Sub(last).Hours() / 24
		r := Retention(days, m.Importance, m.ReplayCount)
		if r >= RetentionThreshold {
			return nil
		}

		switch m.Layer {
		case types.LayerEpisodic:
			if err := e.archiveWithEssence(ctx, &m, now); err != nil {
				return err
			}
			affected++
		case types.LayerSemantic:
			m.Confidence *= r
			if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(&m)); err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	return affected, err
}

// archiveWithEssence extracts a semantic essence from a decayed
// episodic memory, persists it linked to the source, removes the
// episodic memory from retrieval, and marks the time-series row
// archived.
func (e *Engine) archiveWithEssence(ctx context.Context, m *types.Memory, now time.Time) error {
	essenceText := e.essence(ctx, m.Content)

	essence := &types.Memory{
		UserID:     m.UserID,
		Content:    essenceText,
		Embedding:  m.Embedding,
		Layer:      types.LayerSemantic,
		Type:       types.TypeImplicit,
		Importance: m.Importance,
		Confidence: m.Confidence,
		CreatedAt:  now,
		LastAccess: now,
		Tags:       m.Tags,
		Source:     types.SourceMaintenance,
		Metadata:   map[string]any{"source_episodes": []string{m.ID}},
	}
	essence.ID = types.MemoryID(essence.UserID, essence.Content, now)

	if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(essence)); err != nil {
		return fmt.Errorf("failed to persist essence: %w", err)
	}
	if e.graph != nil {
		if err := e.graph.Link(ctx, essence.ID, m.ID, graph.RelationSourceOf, 1); err != nil {
			e.logger.Debug("Essence link failed", zap.Error(err))
		}
	}
	if err := e.vectors.Delete(ctx, m.ID); err != nil {
		return fmt.Errorf("failed to retire episodic memory: %w", err)
	}
	if err := e.series.ArchiveEpisodic(ctx, m.ID); err != nil {
		e.logger.Debug("Episodic archive flag failed", zap.Error(err))
	}
	return nil
}

// essence summarizes content into one stable sentence. Falls back to a
// truncation when no model is configured.
func (e *Engine) essence(ctx context.Context, content string) string {
	if e.model != nil {
		resp, err := e.model.Chat(ctx, []llm.Message{
			{Role: "system", Content: "Compress the event into one factual sentence preserving who, what, and when. Reply with the sentence only."},
			{Role: "user", Content: content},
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
	}
	if len(content) > 200 {
		content = content[:200]
	}
	return content
}

// Compact merges near-duplicate memories within a user: same layer,
// cosine similarity at or above the threshold. The higher-importance
// memory survives, accumulating the other's access count; the pair is
// recorded as a SIMILAR_TO edge for lineage.
func (e *Engine) Compact(ctx context.Context, userID string) (int, error) {
	var memories []types.Memory
	if err := e.scanUser(ctx, userID, func(m types.Memory) error {
		if len(m.Embedding) > 0 {
			memories = append(memories, m)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	merged := 0
	dropped := make(map[string]bool)
	for i := 0; i < len(memories); i++ {
		if dropped[memories[i].ID] {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			if dropped[memories[j].ID] || memories[i].Layer != memories[j].Layer {
				continue
			}
			sim, err := embedding.CosineSimilarity(memories[i].Embedding, memories[j].Embedding)
			if err != nil || sim < compactionSimilarity {
				continue
			}
			winner, loser := &memories[i], &memories[j]
			if loser.Importance > winner.Importance {
				winner, loser = loser, winner
			}
			winner.AccessCount += loser.AccessCount
			winner.ReplayCount += loser.ReplayCount

			if e.graph != nil {
				if err := e.graph.Link(ctx, winner.ID, loser.ID, graph.RelationSimilarTo, sim); err != nil {
					e.logger.Debug("Similarity link failed", zap.Error(err))
				}
			}
			if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(winner)); err != nil {
				return merged, err
			}
			if err := e.vectors.Delete(ctx, loser.ID); err != nil {
				return merged, err
			}
			dropped[loser.ID] = true
			merged++
			if dropped[memories[i].ID] {
				break
			}
		}
	}
	return merged, nil
}

// Promote moves short-term memories with access_count ≥ 3 and age ≥
// 24h up to the semantic layer.
func (e *Engine) Promote(ctx context.Context, userID string) (int, error) {
	promoted := 0
	cutoff := time.Now().UTC().Add(-promotionMinAge)

	err := e.scanUser(ctx, userID, func(m types.Memory) error {
		if m.Layer != types.LayerShortTerm {
			return nil
		}
		if m.AccessCount < promotionAccessCount || m.CreatedAt.After(cutoff) {
			return nil
		}
		m.Layer = types.LayerSemantic
		if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(&m)); err != nil {
			return err
		}
		promoted++
		return nil
	})
	return promoted, err
}

// Consolidate replays high-significance memories from the last day
// (incrementing replay_count) and promotes stable episodic facts into
// semantic rows linked to their source episodes.
func (e *Engine) Consolidate(ctx context.Context, userID string) (int, error) {
	consolidated := 0
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)

	var stable []types.Memory
	err := e.scanUser(ctx, userID, func(m types.Memory) error {
		if m.Importance < consolidationCutoff {
			return nil
		}
		if m.CreatedAt.After(dayAgo) {
			m.ReplayCount++
			if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(&m)); err != nil {
				return err
			}
			consolidated++
			return nil
		}
		if m.Layer == types.LayerEpisodic && m.ReplayCount > 0 {
			stable = append(stable, m)
		}
		return nil
	})
	if err != nil {
		return consolidated, err
	}

	for _, m := range stable {
		essence := &types.Memory{
			UserID:     m.UserID,
			Content:    e.essence(ctx, m.Content),
			Embedding:  m.Embedding,
			Layer:      types.LayerSemantic,
			Type:       types.TypeImplicit,
			Importance: m.Importance,
			Confidence: m.Confidence,
			CreatedAt:  now,
			LastAccess: now,
			Tags:       m.Tags,
			Source:     types.SourceMaintenance,
			Metadata:   map[string]any{"source_episodes": []string{m.ID}},
		}
		essence.ID = types.MemoryID(essence.UserID, essence.Content, now)
		// Idempotent: re-running produces the same essence id within the
		// minute and the upsert absorbs it.
		if err := e.vectors.Upsert(ctx, vector.RecordFromMemory(essence)); err != nil {
			return consolidated, err
		}
		if e.graph != nil {
			if err := e.graph.Link(ctx, essence.ID, m.ID, graph.RelationSourceOf, 1); err != nil {
				e.logger.Debug("Consolidation link failed", zap.Error(err))
			}
		}
		consolidated++
	}
	return consolidated, nil
}

// Reconcile repairs cross-store divergence: for each memory whose
// routing flags promise a typed row that is missing, re-apply that part
// of the write plan from the stamped projection.
func (e *Engine) Reconcile(ctx context.Context, userID string) (int, error) {
	repaired := 0
	err := e.scanUser(ctx, userID, func(m types.Memory) error {
		meta := toMeta(m)
		persistence.Rehydrate(&m)

		if vector.MetaBool(meta, types.MetaStoredInEpisodic) && m.Episodic != nil {
			ok, err := e.series.Exists(ctx, timeseries.TableEpisodic, m.ID)
			if err != nil {
				return err
			}
			if !ok {
				if err := e.series.InsertEpisodic(ctx, &m); err != nil {
					return err
				}
				repaired++
			}
		}
		if vector.MetaBool(meta, types.MetaStoredInEmotional) && m.Emotional != nil {
			ok, err := e.series.Exists(ctx, timeseries.TableEmotional, m.ID)
			if err != nil {
				return err
			}
			if !ok {
				if err := e.series.InsertEmotional(ctx, &m); err != nil {
					return err
				}
				repaired++
			}
		}
		if vector.MetaBool(meta, types.MetaStoredInProcedural) && m.Procedural != nil {
			ok, err := e.typed.HasProcedural(ctx, m.ID)
			if err != nil {
				return err
			}
			if !ok {
				if err := e.typed.UpsertProcedural(ctx, &m); err != nil {
					return err
				}
				repaired++
			}
		}
		return nil
	})
	return repaired, err
}

// scanUser pages through a user's vector records, mapping each onto a
// memory. The snapshot is collected before any callback runs: jobs
// delete and insert records mid-run, which would shift offset pages
// under a live scan and skip rows.
func (e *Engine) scanUser(ctx context.Context, userID string, fn func(m types.Memory) error) error {
	var snapshot []vector.Record
	offset := 0
	for {
		recs, _, err := e.vectors.Scan(ctx, vector.Filter{UserID: userID}, offset, scanBatch)
		if err != nil {
			return fmt.Errorf("%w: maintenance scan: %v", types.ErrStorage, err)
		}
		snapshot = append(snapshot, recs...)
		if len(recs) < scanBatch {
			break
		}
		offset += scanBatch
	}
	for _, rec := range snapshot {
		if err := fn(vector.MemoryFromRecord(rec)); err != nil {
			return err
		}
	}
	return nil
}

// toMeta rebuilds the metadata view including routing flags.
func toMeta(m types.Memory) map[string]any {
	if m.Metadata != nil {
		return m.Metadata
	}
	return map[string]any{}
}
