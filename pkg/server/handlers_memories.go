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

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// directStoreRequest is the pre-formatted write: no LLM involved.
type directStoreRequest struct {
	UserID      string         `json:"user_id" validate:"required"`
	Content     string         `json:"content" validate:"required,max=5000"`
	Layer       string         `json:"layer,omitempty"`
	Type        string         `json:"type,omitempty"`
	Importance  *float64       `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Confidence  *float64       `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tags        []string       `json:"tags,omitempty"`
	PersonaTags []string       `json:"persona_tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Typed fields, flattened the way collaborators send them.
	EventTimestamp   *time.Time `json:"event_timestamp,omitempty"`
	EventType        string     `json:"event_type,omitempty"`
	Location         string     `json:"location,omitempty"`
	Participants     []string   `json:"participants,omitempty"`
	EmotionalValence *float64   `json:"emotional_valence,omitempty"`
	EmotionalArousal *float64   `json:"emotional_arousal,omitempty"`

	EmotionalState string   `json:"emotional_state,omitempty"`
	Valence        *float64 `json:"valence,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Arousal        *float64 `json:"arousal,omitempty" validate:"omitempty,gte=0,lte=1"`
	Dominance      *float64 `json:"dominance,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Intensity      *float64 `json:"intensity,omitempty" validate:"omitempty,gte=0,lte=1"`
	DurationMin    *float64 `json:"duration_minutes,omitempty"`
	TriggerEvent   string   `json:"trigger_event,omitempty"`

	SkillName        string   `json:"skill_name,omitempty"`
	ProficiencyLevel string   `json:"proficiency_level,omitempty"`
	PracticeCount    *int     `json:"practice_count,omitempty"`
	SuccessRate      *float64 `json:"success_rate,omitempty"`
	DifficultyRating *float64 `json:"difficulty_rating,omitempty"`
	Prerequisites    []string `json:"prerequisites,omitempty"`

	Holding *types.PortfolioHolding `json:"holding,omitempty"`
}

// directStoreResponse mirrors the storage routing per adapter.
type directStoreResponse struct {
	Status   string          `json:"status"`
	MemoryID string          `json:"memory_id,omitempty"`
	Message  string          `json:"message,omitempty"`
	Storage  map[string]bool `json:"storage,omitempty"`
}

func (s *Server) handleDirectStore(w http.ResponseWriter, r *http.Request) {
	var req directStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		s.writeError(w, err)
		return
	}

	m, err := req.toMemory()
	if err != nil {
		s.writeError(w, err)
		return
	}

	emb, err := s.deps.Embedder.Embed(r.Context(), m.Content)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrEmbedding, err))
		return
	}
	m.Embedding = emb

	outcome, err := s.deps.Persister.Persist(r.Context(), m)
	if err != nil {
		s.writeError(w, err)
		return
	}

	storage := map[string]bool{"chromadb": outcome.Succeeded()}
	for _, a := range outcome.Outcomes {
		switch a.Adapter {
		case types.AdapterEpisodic, types.AdapterEmotional, types.AdapterProcedural, types.AdapterPortfolio:
			storage[a.Adapter] = a.OK
		}
	}

	s.writeJSON(w, http.StatusOK, directStoreResponse{
		Status:   "success",
		MemoryID: m.ID,
		Message:  "memory stored",
		Storage:  storage,
	})
}

// toMemory converts the flattened request into a validated memory.
func (req *directStoreRequest) toMemory() (*types.Memory, error) {
	now := time.Now().UTC()
	m := &types.Memory{
		UserID:      req.UserID,
		Content:     extraction.StripPII(req.Content),
		Layer:       types.LayerSemantic,
		Type:        types.TypeExplicit,
		Importance:  0.5,
		Confidence:  1,
		CreatedAt:   now,
		LastAccess:  now,
		Tags:        req.Tags,
		PersonaTags: req.PersonaTags,
		Source:      types.SourceDirectAPI,
		Metadata:    req.Metadata,
	}
	if req.Layer != "" {
		m.Layer = types.Layer(req.Layer)
	}
	if req.Type != "" {
		m.Type = types.MemoryType(req.Type)
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}
	if req.Confidence != nil {
		m.Confidence = *req.Confidence
	}

	if req.EventTimestamp != nil {
		m.Episodic = &types.EpisodicFields{
			EventTimestamp:  *req.EventTimestamp,
			EventType:       req.EventType,
			Location:        req.Location,
			Participants:    req.Participants,
			ImportanceScore: m.Importance,
		}
		if req.EmotionalValence != nil {
			m.Episodic.EmotionalValence = *req.EmotionalValence
		}
		if req.EmotionalArousal != nil {
			m.Episodic.EmotionalArousal = *req.EmotionalArousal
		}
	}
	if req.EmotionalState != "" {
		m.Emotional = &types.EmotionalFields{
			Timestamp:      now,
			EmotionalState: req.EmotionalState,
			TriggerEvent:   req.TriggerEvent,
		}
		if req.Valence != nil {
			m.Emotional.Valence = *req.Valence
		}
		if req.Arousal != nil {
			m.Emotional.Arousal = *req.Arousal
		}
		if req.Dominance != nil {
			m.Emotional.Dominance = *req.Dominance
		}
		if req.Intensity != nil {
			m.Emotional.Intensity = *req.Intensity
		}
		if req.DurationMin != nil {
			m.Emotional.DurationMin = *req.DurationMin
		}
	}
	if req.SkillName != "" {
		m.Procedural = &types.ProceduralFields{
			SkillName:        req.SkillName,
			ProficiencyLevel: req.ProficiencyLevel,
			Prerequisites:    req.Prerequisites,
		}
		if req.PracticeCount != nil {
			m.Procedural.PracticeCount = *req.PracticeCount
		}
		if req.SuccessRate != nil {
			m.Procedural.SuccessRate = *req.SuccessRate
		}
		if req.DifficultyRating != nil {
			m.Procedural.DifficultyRating = *req.DifficultyRating
		}
	}
	if req.Holding != nil {
		h := *req.Holding
		h.UserID = req.UserID
		m.Holding = &h
	}

	m.ID = types.MemoryID(m.UserID, m.Content, m.CreatedAt)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Holding != nil {
		if err := m.Holding.Validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Persister.Delete(r.Context(), id, userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"memory_id": id,
	})
}

// handleStorePipeline runs the full LLM pipeline on a posted history.
func (s *Server) handleStorePipeline(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		s.writeError(w, types.ErrPoolSaturated)
		return
	}
	defer s.release()

	var req extraction.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.Source = types.SourceStorePipeline

	result, err := s.deps.Pipeline.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"worthy":   result.Worthy,
		"reason":   result.Reason,
		"counters": result.Counters,
		"outcomes": result.Outcomes,
	})
}
