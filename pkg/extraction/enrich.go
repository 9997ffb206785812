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
	"strings"

	"github.com/teradata-labs/mnemo/pkg/portfolio"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// maxPersonaTags caps inferred persona tags per memory.
const maxPersonaTags = 10

// personaVocabulary maps keyword cues to persona tags. The vocabulary
// is fixed but extensible.
var personaVocabulary = map[string][]string{
	"finance": {"stock", "invest", "portfolio", "shares", "market", "dividend", "crypto", "savings", "budget"},
	"health":  {"doctor", "exercise", "workout", "sleep", "diet", "medication", "therapy", "anxiety", "run", "gym"},
	"work":    {"meeting", "project", "deadline", "boss", "colleague", "promotion", "interview", "career", "job"},
	"family":  {"mom", "dad", "sister", "brother", "daughter", "son", "wife", "husband", "parents", "kids"},
	"travel":  {"flight", "trip", "vacation", "hotel", "visit", "travel", "airport"},
	"hobby":   {"guitar", "piano", "paint", "cook", "read", "game", "hike", "photography", "garden"},
}

// positiveCues and negativeCues drive the lexical sentiment fallback
// for emotional fields the model left unset.
var (
	positiveCues = []string{"happy", "excited", "great", "love", "proud", "relieved", "grateful", "thrilled", "glad"}
	negativeCues = []string{"sad", "angry", "anxious", "worried", "stressed", "frustrated", "scared", "upset", "tired"}
)

// enrich runs the post-classification stage: sentiment fallback for
// emotional fields, persona-tag inference, and portfolio ticker
// normalization.
func (p *Pipeline) enrich(m *types.Memory) {
	inferPersonaTags(m)

	if m.Emotional != nil && m.Emotional.Valence == 0 {
		m.Emotional.Valence = lexicalValence(m.Content)
	}

	if m.Holding != nil {
		m.Holding.Ticker = portfolio.NormalizeTicker(m.Holding.Ticker)
		if !types.ValidTicker(m.Holding.Ticker) {
			// Rejected tickers drop the portfolio projection, not the
			// memory.
			m.Holding = nil
		}
	}
	if m.Holding != nil {
		m.PersonaTags = appendUnique(m.PersonaTags, "finance")
	}
}

// inferPersonaTags scans content for vocabulary cues and merges them
// into the model-supplied tags, capped at maxPersonaTags.
func inferPersonaTags(m *types.Memory) {
	lower := strings.ToLower(m.Content)
	tags := m.PersonaTags
	for persona, cues := range personaVocabulary {
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				tags = appendUnique(tags, persona)
				break
			}
		}
	}
	if len(tags) > maxPersonaTags {
		tags = tags[:maxPersonaTags]
	}
	m.PersonaTags = tags
}

// lexicalValence is a coarse [-1,1] sentiment from cue counting.
func lexicalValence(content string) float64 {
	lower := strings.ToLower(content)
	score := 0
	for _, cue := range positiveCues {
		if strings.Contains(lower, cue) {
			score++
		}
	}
	for _, cue := range negativeCues {
		if strings.Contains(lower, cue) {
			score--
		}
	}
	switch {
	case score > 1:
		return 0.8
	case score == 1:
		return 0.4
	case score == -1:
		return -0.4
	case score < -1:
		return -0.8
	}
	return 0
}

func appendUnique(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}
