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

// Package graph stores memory-to-memory relations as edges in a join
// table and answers bounded proximity queries for the hybrid scorer.
// The adapter is optional: when absent, all graph signals score 0.
package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
)

// Relation kinds. The vocabulary is open; these are the ones maintenance
// writes today.
const (
	RelationSimilarTo = "SIMILAR_TO"
	RelationLedTo     = "LED_TO"
	RelationSourceOf  = "SOURCE_OF"
)

// Proximity scores for the hybrid blend.
const (
	ProximityDirect = 1.0
	ProximityTwoHop = 0.5
	ProximityNone   = 0.0
)

// MaxDepth bounds traversal; cycles are cut by visited-set tracking.
const MaxDepth = 2

// Edge is one relation row.
type Edge struct {
	SrcID     string    `db:"src_id"`
	DstID     string    `db:"dst_id"`
	Relation  string    `db:"relation"`
	Weight    float64   `db:"weight"`
	CreatedAt time.Time `db:"-"`
}

// Store is the relation-edge adapter.
type Store struct {
	db     *relational.DB
	logger *zap.Logger
}

// New wraps the shared relational pool.
func New(db *relational.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Link upserts an edge. Relinking an existing (src, dst, relation)
// refreshes its weight.
func (s *Store) Link(ctx context.Context, src, dst, relation string, weight float64) error {
	if src == "" || dst == "" || src == dst {
		return fmt.Errorf("invalid edge %q -> %q", src, dst)
	}
	query := s.db.Rebind(`
		INSERT INTO memory_relations (src_id, dst_id, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (src_id, dst_id, relation) DO UPDATE SET weight = excluded.weight`)
	if _, err := s.db.ExecContext(ctx, query,
		src, dst, relation, weight, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("failed to link memories: %w", err)
	}
	return nil
}

// Unlink removes every edge touching the memory, in both directions.
// Called on memory delete.
func (s *Store) Unlink(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM memory_relations WHERE src_id = ? OR dst_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id, id); err != nil {
		return fmt.Errorf("failed to unlink memory: %w", err)
	}
	return nil
}

// Neighbors returns the ids directly related to id, either direction.
func (s *Store) Neighbors(ctx context.Context, id string) ([]string, error) {
	query := s.db.Rebind(`
		SELECT dst_id FROM memory_relations WHERE src_id = ?
		UNION
		SELECT src_id FROM memory_relations WHERE dst_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, id, id)
	if err != nil {
		return nil, fmt.Errorf("neighbor scan failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("neighbor scan failed: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Proximity computes hop distances from a set of seed ids, depth-bounded
// at MaxDepth. The result maps reachable ids to ProximityDirect (one
// hop) or ProximityTwoHop (two hops); seeds themselves are omitted.
func (s *Store) Proximity(ctx context.Context, seeds []string) (map[string]float64, error) {
	visited := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		visited[id] = true
	}

	scores := make(map[string]float64)
	frontier := seeds
	for depth := 1; depth <= MaxDepth && len(frontier) > 0; depth++ {
		score := ProximityDirect
		if depth == 2 {
			score = ProximityTwoHop
		}
		var next []string
		for _, id := range frontier {
			neighbors, err := s.Neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				scores[n] = score
				next = append(next, n)
			}
		}
		frontier = next
	}
	return scores, nil
}

// EdgesFrom lists outgoing edges for a memory.
func (s *Store) EdgesFrom(ctx context.Context, id string) ([]Edge, error) {
	query := s.db.Rebind(`
		SELECT src_id, dst_id, relation, weight, created_at
		FROM memory_relations WHERE src_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("edge scan failed: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var (
			e  Edge
			ts int64
		)
		if err := rows.Scan(&e.SrcID, &e.DstID, &e.Relation, &e.Weight, &ts); err != nil {
			return nil, fmt.Errorf("edge scan failed: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
