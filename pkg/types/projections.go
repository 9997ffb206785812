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

import (
	"fmt"
	"regexp"
	"time"
)

// EpisodicFields are the typed projection for event memories, written to
// the episodic_memories time-series table.
type EpisodicFields struct {
	EventTimestamp   time.Time `json:"event_timestamp"`
	EventType        string    `json:"event_type,omitempty"`
	Location         string    `json:"location,omitempty"`
	Participants     []string  `json:"participants,omitempty"`
	EmotionalValence float64   `json:"emotional_valence"` // [-1,1]
	EmotionalArousal float64   `json:"emotional_arousal"` // [0,1]
	ImportanceScore  float64   `json:"importance_score"`  // [0,1]
}

func (e *EpisodicFields) Validate() error {
	if e.EventTimestamp.IsZero() {
		return fmt.Errorf("%w: event_timestamp is required", ErrValidation)
	}
	if e.EmotionalValence < -1 || e.EmotionalValence > 1 {
		return fmt.Errorf("%w: emotional_valence %f outside [-1,1]", ErrValidation, e.EmotionalValence)
	}
	if e.EmotionalArousal < 0 || e.EmotionalArousal > 1 {
		return fmt.Errorf("%w: emotional_arousal %f outside [0,1]", ErrValidation, e.EmotionalArousal)
	}
	if e.ImportanceScore < 0 || e.ImportanceScore > 1 {
		return fmt.Errorf("%w: importance_score %f outside [0,1]", ErrValidation, e.ImportanceScore)
	}
	return nil
}

// EmotionalFields are the typed projection for emotional-state memories.
type EmotionalFields struct {
	Timestamp      time.Time `json:"timestamp"`
	EmotionalState string    `json:"emotional_state"`
	Valence        float64   `json:"valence"`   // [-1,1]
	Arousal        float64   `json:"arousal"`   // [0,1]
	Dominance      float64   `json:"dominance"` // [0,1]
	Intensity      float64   `json:"intensity"` // [0,1]
	DurationMin    float64   `json:"duration_minutes"`
	TriggerEvent   string    `json:"trigger_event,omitempty"`
}

func (e *EmotionalFields) Validate() error {
	if e.EmotionalState == "" {
		return fmt.Errorf("%w: emotional_state is required", ErrValidation)
	}
	if e.Valence < -1 || e.Valence > 1 {
		return fmt.Errorf("%w: valence %f outside [-1,1]", ErrValidation, e.Valence)
	}
	for name, v := range map[string]float64{"arousal": e.Arousal, "dominance": e.Dominance, "intensity": e.Intensity} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %f outside [0,1]", ErrValidation, name, v)
		}
	}
	if e.DurationMin < 0 {
		return fmt.Errorf("%w: duration_minutes must be >= 0", ErrValidation)
	}
	return nil
}

// Proficiency levels for procedural memories.
const (
	ProficiencyBeginner     = "beginner"
	ProficiencyIntermediate = "intermediate"
	ProficiencyAdvanced     = "advanced"
	ProficiencyExpert       = "expert"
	ProficiencyMaster       = "master"
)

// ValidProficiency reports whether p is a known proficiency level.
func ValidProficiency(p string) bool {
	switch p {
	case ProficiencyBeginner, ProficiencyIntermediate, ProficiencyAdvanced, ProficiencyExpert, ProficiencyMaster:
		return true
	}
	return false
}

// ProceduralFields are the typed projection for skill memories.
type ProceduralFields struct {
	SkillName        string   `json:"skill_name"`
	ProficiencyLevel string   `json:"proficiency_level"`
	PracticeCount    int      `json:"practice_count"`
	SuccessRate      float64  `json:"success_rate"`      // [0,1]
	DifficultyRating float64  `json:"difficulty_rating"` // [0,1]
	Prerequisites    []string `json:"prerequisites,omitempty"`
}

func (p *ProceduralFields) Validate() error {
	if p.SkillName == "" {
		return fmt.Errorf("%w: skill_name is required", ErrValidation)
	}
	if !ValidProficiency(p.ProficiencyLevel) {
		return fmt.Errorf("%w: unknown proficiency_level %q", ErrValidation, p.ProficiencyLevel)
	}
	if p.PracticeCount < 0 {
		return fmt.Errorf("%w: practice_count must be >= 0", ErrValidation)
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return fmt.Errorf("%w: success_rate %f outside [0,1]", ErrValidation, p.SuccessRate)
	}
	if p.DifficultyRating < 0 || p.DifficultyRating > 1 {
		return fmt.Errorf("%w: difficulty_rating %f outside [0,1]", ErrValidation, p.DifficultyRating)
	}
	return nil
}

// IdentityRecord is the one-row-per-user identity projection.
type IdentityRecord struct {
	UserID            string    `json:"user_id"`
	CoreValues        []string  `json:"core_values,omitempty"`
	SelfConcept       string    `json:"self_concept,omitempty"`
	IdealSelf         string    `json:"ideal_self,omitempty"`
	FearedSelf        string    `json:"feared_self,omitempty"`
	LifeRoles         []string  `json:"life_roles,omitempty"`
	PersonalityTraits []string  `json:"personality_traits,omitempty"`
	GrowthEdges       []string  `json:"growth_edges,omitempty"`
	Contradictions    []string  `json:"contradictions,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// ValidTicker reports whether t is an accepted ticker symbol.
func ValidTicker(t string) bool { return tickerPattern.MatchString(t) }

// PortfolioHolding is the current-position view, unique per (user, ticker).
// The portfolio_transactions ledger is the source of truth; holdings are a
// fold over it.
type PortfolioHolding struct {
	UserID        string    `json:"user_id" db:"user_id"`
	Ticker        string    `json:"ticker" db:"ticker"`
	AssetName     string    `json:"asset_name,omitempty" db:"asset_name"`
	Shares        float64   `json:"shares" db:"shares"`
	AvgPrice      float64   `json:"avg_price" db:"avg_price"`
	FirstAcquired time.Time `json:"first_acquired" db:"first_acquired"`
	LastUpdated   time.Time `json:"last_updated" db:"last_updated"`
}

func (h *PortfolioHolding) Validate() error {
	if h.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !ValidTicker(h.Ticker) {
		return fmt.Errorf("%w: ticker %q must match [A-Z]{1,5}", ErrValidation, h.Ticker)
	}
	return nil
}

// PortfolioTransaction is one row of the append-only ledger.
type PortfolioTransaction struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Ticker    string    `json:"ticker" db:"ticker"`
	AssetName string    `json:"asset_name,omitempty" db:"asset_name"`
	Action    string    `json:"action" db:"action"` // buy | sell
	Shares    float64   `json:"shares" db:"shares"`
	Price     float64   `json:"price" db:"price"`
	At        time.Time `json:"at" db:"at"`
}

// SkillProgression records a proficiency change for a procedural memory.
type SkillProgression struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	SkillName string    `json:"skill_name" db:"skill_name"`
	FromLevel string    `json:"from_level" db:"from_level"`
	ToLevel   string    `json:"to_level" db:"to_level"`
	At        time.Time `json:"at" db:"at"`
}
