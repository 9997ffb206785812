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

// Package types defines the core domain types shared across mnemo packages:
// memories and their typed projections, scheduled intents, retrieval
// requests/results, persistence outcomes, and the error taxonomy.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Layer classifies the temporal/semantic nature of a memory.
type Layer string

const (
	LayerShortTerm  Layer = "short-term"
	LayerSemantic   Layer = "semantic"
	LayerLongTerm   Layer = "long-term"
	LayerEpisodic   Layer = "episodic"
	LayerEmotional  Layer = "emotional"
	LayerProcedural Layer = "procedural"
	// LayerIdentity is assigned by enrichment for identity-level facts.
	// Identity memories are exempt from decay.
	LayerIdentity Layer = "identity"
)

// ValidLayer reports whether l is a known memory layer.
func ValidLayer(l Layer) bool {
	switch l {
	case LayerShortTerm, LayerSemantic, LayerLongTerm, LayerEpisodic, LayerEmotional, LayerProcedural, LayerIdentity:
		return true
	}
	return false
}

// MemoryType distinguishes user-stated from model-inferred content.
type MemoryType string

const (
	TypeExplicit MemoryType = "explicit"
	TypeImplicit MemoryType = "implicit"
)

// Source records which entry point created a memory.
type Source string

const (
	SourceOrchestrator  Source = "orchestrator"
	SourceDirectAPI     Source = "direct_api"
	SourceStorePipeline Source = "store_pipeline"
	SourceMaintenance   Source = "maintenance"
)

// Routing metadata keys recorded in vector-store metadata on a successful
// persist. Deletion consults these so it only targets stores that were
// actually written.
const (
	MetaStoredInEpisodic   = "stored_in_episodic"
	MetaStoredInEmotional  = "stored_in_emotional"
	MetaStoredInProcedural = "stored_in_procedural"
)

// MaxContentLength bounds memory content; longer content is a
// VALIDATION_ERROR at the API boundary.
const MaxContentLength = 5000

// Memory is the primary unit of storage.
type Memory struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Content     string         `json:"content"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Layer       Layer          `json:"layer"`
	Type        MemoryType     `json:"type"`
	Importance  float64        `json:"importance"`
	Confidence  float64        `json:"confidence"`
	CreatedAt   time.Time      `json:"created_at"`
	LastAccess  time.Time      `json:"last_accessed_at"`
	AccessCount int            `json:"access_count"`
	ReplayCount int            `json:"replay_count"`
	Tags        []string       `json:"tags,omitempty"`
	PersonaTags []string       `json:"persona_tags,omitempty"`
	Source      Source         `json:"source"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Typed fields. When set they activate the corresponding typed store
	// through the persistence write plan.
	Episodic   *EpisodicFields   `json:"episodic,omitempty"`
	Emotional  *EmotionalFields  `json:"emotional,omitempty"`
	Procedural *ProceduralFields `json:"procedural,omitempty"`
	Holding    *PortfolioHolding `json:"holding,omitempty"`
}

// MemoryID derives the deterministic idempotency key for a memory:
// sha256 over user id, content, and the creation time truncated to the
// minute. Re-ingesting the same content in the same minute maps to the
// same id, so adapter upserts absorb duplicates.
func MemoryID(userID, content string, createdAt time.Time) string {
	coarse := createdAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(userID + "\x00" + content + "\x00" + coarse))
	return "mem_" + hex.EncodeToString(sum[:16])
}

// Touch records a retrieval hit.
func (m *Memory) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccess = now
}

// Validate checks domain constraints on the memory itself (not the typed
// projections, which validate separately).
func (m *Memory) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(m.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	}
	if !ValidLayer(m.Layer) {
		return fmt.Errorf("%w: unknown layer %q", ErrValidation, m.Layer)
	}
	if m.Type != TypeExplicit && m.Type != TypeImplicit {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("%w: importance %f outside [0,1]", ErrValidation, m.Importance)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f outside [0,1]", ErrValidation, m.Confidence)
	}
	if m.Episodic != nil {
		if err := m.Episodic.Validate(); err != nil {
			return err
		}
	}
	if m.Emotional != nil {
		if err := m.Emotional.Validate(); err != nil {
			return err
		}
	}
	if m.Procedural != nil {
		if err := m.Procedural.Validate(); err != nil {
			return err
		}
	}
	return nil
}
