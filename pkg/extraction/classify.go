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

package extraction

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// candidate is the semi-structured shape the model returns. The
// classification stage is the canonical boundary converting it into a
// typed memory record.
type candidate struct {
	Content     string                  `json:"content"`
	Layer       string                  `json:"layer"`
	Type        string                  `json:"type"`
	Importance  float64                 `json:"importance"`
	Confidence  float64                 `json:"confidence"`
	Tags        []string                `json:"tags"`
	PersonaTags []string                `json:"persona_tags"`
	Episodic    *types.EpisodicFields   `json:"episodic"`
	Emotional   *types.EmotionalFields  `json:"emotional"`
	Procedural  *types.ProceduralFields `json:"procedural"`
	Holding     *types.PortfolioHolding `json:"holding"`
}

// PII patterns stripped from content before persistence.
var (
	creditCardPattern = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

const piiRedaction = "[REDACTED]"

// StripPII replaces credit-card-like and SSN-like sequences.
func StripPII(content string) string {
	content = ssnPattern.ReplaceAllString(content, piiRedaction)
	content = creditCardPattern.ReplaceAllString(content, piiRedaction)
	return content
}

// classify converts a candidate into a validated memory: clamps numeric
// fields, rejects unknown enum values, strips PII, and assigns the
// deterministic id.
func (p *Pipeline) classify(c candidate, req Request, now time.Time) (*types.Memory, error) {
	content := strings.TrimSpace(StripPII(c.Content))
	if content == "" {
		return nil, fmt.Errorf("%w: empty candidate content", types.ErrValidation)
	}
	if len(content) > types.MaxContentLength {
		content = content[:types.MaxContentLength]
	}

	layer := types.Layer(c.Layer)
	if !types.ValidLayer(layer) {
		return nil, fmt.Errorf("%w: unknown layer %q", types.ErrValidation, c.Layer)
	}
	memType := types.MemoryType(c.Type)
	if memType != types.TypeExplicit && memType != types.TypeImplicit {
		return nil, fmt.Errorf("%w: unknown type %q", types.ErrValidation, c.Type)
	}

	m := &types.Memory{
		UserID:      req.UserID,
		Content:     content,
		Layer:       layer,
		Type:        memType,
		Importance:  clamp01(c.Importance),
		Confidence:  clamp01(c.Confidence),
		CreatedAt:   now,
		LastAccess:  now,
		Tags:        dedupeStrings(c.Tags),
		PersonaTags: dedupeStrings(c.PersonaTags),
		Source:      req.Source,
		Metadata:    map[string]any{},
	}
	for k, v := range req.Metadata {
		m.Metadata[k] = v
	}

	if c.Episodic != nil && !c.Episodic.EventTimestamp.IsZero() {
		e := *c.Episodic
		e.EmotionalValence = clampSigned(e.EmotionalValence)
		e.EmotionalArousal = clamp01(e.EmotionalArousal)
		e.ImportanceScore = clamp01(e.ImportanceScore)
		e.Location = strings.TrimSpace(e.Location)
		m.Episodic = &e
	}
	if c.Emotional != nil && c.Emotional.EmotionalState != "" {
		e := *c.Emotional
		e.Valence = clampSigned(e.Valence)
		e.Arousal = clamp01(e.Arousal)
		e.Dominance = clamp01(e.Dominance)
		e.Intensity = clamp01(e.Intensity)
		if e.DurationMin < 0 {
			e.DurationMin = 0
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		m.Emotional = &e
	}
	if c.Procedural != nil && c.Procedural.SkillName != "" {
		pr := *c.Procedural
		if !types.ValidProficiency(pr.ProficiencyLevel) {
			return nil, fmt.Errorf("%w: unknown proficiency_level %q", types.ErrValidation, pr.ProficiencyLevel)
		}
		if pr.PracticeCount < 0 {
			pr.PracticeCount = 0
		}
		pr.SuccessRate = clamp01(pr.SuccessRate)
		pr.DifficultyRating = clamp01(pr.DifficultyRating)
		m.Procedural = &pr
	}
	if c.Holding != nil && c.Holding.Ticker != "" {
		h := *c.Holding
		h.UserID = req.UserID
		m.Holding = &h
	}

	m.ID = types.MemoryID(m.UserID, m.Content, m.CreatedAt)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedupeStrings(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
