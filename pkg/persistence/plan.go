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

package persistence

import (
	"encoding/json"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// Metadata keys carrying the typed projections alongside the routing
// flags, so the reconciliation job can rebuild a missing typed row from
// the vector record alone.
const (
	MetaEpisodicFields   = "episodic_fields"
	MetaEmotionalFields  = "emotional_fields"
	MetaProceduralFields = "procedural_fields"
)

// WritePlan names the adapters a memory's typed fields activate. The
// vector store is always written and is not part of the plan.
type WritePlan struct {
	Episodic   bool
	Emotional  bool
	Procedural bool
	Portfolio  bool
}

// PlanFor derives the write plan from a memory's typed fields.
func PlanFor(m *types.Memory) WritePlan {
	return WritePlan{
		Episodic:   m.Episodic != nil && !m.Episodic.EventTimestamp.IsZero(),
		Emotional:  m.Emotional != nil && m.Emotional.EmotionalState != "",
		Procedural: m.Procedural != nil && m.Procedural.SkillName != "",
		Portfolio:  m.Holding != nil && m.Holding.Ticker != "",
	}
}

// Any reports whether the plan touches any typed store.
func (p WritePlan) Any() bool {
	return p.Episodic || p.Emotional || p.Procedural || p.Portfolio
}

// Stamp records the plan as routing flags in the memory's metadata, so
// deletion and reconciliation target only the stores the plan used.
func (p WritePlan) Stamp(m *types.Memory) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, 3)
	}
	m.Metadata[types.MetaStoredInEpisodic] = p.Episodic
	m.Metadata[types.MetaStoredInEmotional] = p.Emotional
	m.Metadata[types.MetaStoredInProcedural] = p.Procedural

	if p.Episodic {
		if b, err := json.Marshal(m.Episodic); err == nil {
			m.Metadata[MetaEpisodicFields] = string(b)
		}
	}
	if p.Emotional {
		if b, err := json.Marshal(m.Emotional); err == nil {
			m.Metadata[MetaEmotionalFields] = string(b)
		}
	}
	if p.Procedural {
		if b, err := json.Marshal(m.Procedural); err == nil {
			m.Metadata[MetaProceduralFields] = string(b)
		}
	}
}

// Rehydrate restores typed projections from stamped metadata onto a
// memory rebuilt from a vector record.
func Rehydrate(m *types.Memory) {
	if m.Metadata == nil {
		return
	}
	if raw, ok := m.Metadata[MetaEpisodicFields].(string); ok && m.Episodic == nil {
		var e types.EpisodicFields
		if json.Unmarshal([]byte(raw), &e) == nil {
			m.Episodic = &e
		}
	}
	if raw, ok := m.Metadata[MetaEmotionalFields].(string); ok && m.Emotional == nil {
		var e types.EmotionalFields
		if json.Unmarshal([]byte(raw), &e) == nil {
			m.Emotional = &e
		}
	}
	if raw, ok := m.Metadata[MetaProceduralFields].(string); ok && m.Procedural == nil {
		var pr types.ProceduralFields
		if json.Unmarshal([]byte(raw), &pr) == nil {
			m.Procedural = &pr
		}
	}
}
