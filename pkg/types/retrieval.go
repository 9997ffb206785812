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

package types

import "time"

// ScoreCutoff drops hybrid results scoring below it.
const ScoreCutoff = 0.35

// Blend weights for the hybrid score.
const (
	WeightSemantic   = 0.7
	WeightStructured = 0.2
	WeightGraph      = 0.1
)

// SortOrder for query-less retrieval.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// RetrievalFilters are the structured constraints on a retrieval.
type RetrievalFilters struct {
	Layer Layer      `json:"layer,omitempty"`
	Type  MemoryType `json:"type,omitempty"`
	Tag   string     `json:"tag,omitempty"`
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
}

// Empty reports whether no filter is set.
func (f RetrievalFilters) Empty() bool {
	return f.Layer == "" && f.Type == "" && f.Tag == "" && f.From == nil && f.To == nil
}

// RetrievalOptions tune a retrieval beyond filters.
type RetrievalOptions struct {
	Persona    string    `json:"persona,omitempty"`
	Synthesize bool      `json:"synthesize,omitempty"`
	Sort       SortOrder `json:"sort,omitempty"`
}

// RetrievalRequest is the typed contract the hybrid engine consumes.
type RetrievalRequest struct {
	UserID  string           `json:"user_id"`
	Query   string           `json:"query,omitempty"`
	Filters RetrievalFilters `json:"filters"`
	Limit   int              `json:"limit,omitempty"`
	Offset  int              `json:"offset,omitempty"`
	Options RetrievalOptions `json:"options"`
}

// ScoredMemory is one hybrid-retrieval hit with its component scores.
type ScoredMemory struct {
	Memory         Memory  `json:"memory"`
	SemanticScore  float64 `json:"semantic_score"`
	StructuredHit  float64 `json:"structured_match"`
	GraphProximity float64 `json:"graph_proximity"`
	FinalScore     float64 `json:"final_score"`
}

// Diagnostics enumerates retrieval branches that were skipped and why, so
// clients can tell "no hits" from "branch unavailable".
type Diagnostics map[string]string

// FinanceProjection is attached to finance-flagged retrievals.
type FinanceProjection struct {
	Holdings   []PortfolioHolding `json:"holdings,omitempty"`
	TotalValue float64            `json:"total_value"`
	AsOf       time.Time          `json:"as_of"`
}

// RetrievalResult is the hybrid engine's response.
type RetrievalResult struct {
	Memories    []ScoredMemory     `json:"memories"`
	Total       int                `json:"total"`
	Diagnostics Diagnostics        `json:"diagnostics,omitempty"`
	Finance     *FinanceProjection `json:"finance,omitempty"`
	Synthesis   string             `json:"synthesis,omitempty"`
	Persona     string             `json:"persona,omitempty"`
}

// PersonaWeights multiply the hybrid score for a detected or supplied
// persona. The default persona is (0.4, 0.2, 0.3, 0.1).
type PersonaWeights struct {
	Semantic   float64 `json:"semantic"`
	Temporal   float64 `json:"temporal"`
	Importance float64 `json:"importance"`
	Emotional  float64 `json:"emotional"`
}

// DefaultPersonaWeights is applied when no persona-specific weights are
// configured.
func DefaultPersonaWeights() PersonaWeights {
	return PersonaWeights{Semantic: 0.4, Temporal: 0.2, Importance: 0.3, Emotional: 0.1}
}
