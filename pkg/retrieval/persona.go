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

package retrieval

import (
	"regexp"
	"strings"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// DetectionThreshold is the persona-tag share above which a persona is
// auto-detected from the result set.
const DetectionThreshold = 0.8

// applyPersona resolves the active persona (caller-supplied, else
// auto-detected) and reweights final scores with its blend. The score
// cutoff has already been applied; persona weighting affects ranking
// only. Returns the persona applied, or "".
func (e *Engine) applyPersona(req types.RetrievalRequest, scored []types.ScoredMemory) string {
	persona := req.Options.Persona
	if persona == "" {
		persona = detectPersona(scored)
	}
	if persona == "" || len(scored) == 0 {
		return ""
	}

	weights, ok := e.personas[persona]
	if !ok {
		weights = types.DefaultPersonaWeights()
	}

	now := time.Now().UTC()
	for i := range scored {
		s := &scored[i]
		factor := weights.Semantic*s.SemanticScore +
			weights.Temporal*recencyScore(s.Memory.CreatedAt, now) +
			weights.Importance*s.Memory.Importance +
			weights.Emotional*emotionalScore(&s.Memory)
		s.FinalScore *= factor
	}
	return persona
}

// detectPersona returns the dominant persona tag when it covers at
// least DetectionThreshold of the results.
func detectPersona(scored []types.ScoredMemory) string {
	if len(scored) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for _, s := range scored {
		seen := make(map[string]bool, len(s.Memory.PersonaTags))
		for _, tag := range s.Memory.PersonaTags {
			if !seen[tag] {
				seen[tag] = true
				counts[tag]++
			}
		}
	}
	best, bestCount := "", 0
	for tag, n := range counts {
		if n > bestCount {
			best, bestCount = tag, n
		}
	}
	if float64(bestCount)/float64(len(scored)) >= DetectionThreshold {
		return best
	}
	return ""
}

// recencyScore decays from 1 toward 0 with a 30-day half-life.
func recencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days/30)
}

// emotionalScore signals how emotionally charged a memory is.
func emotionalScore(m *types.Memory) float64 {
	if m.Layer == types.LayerEmotional {
		return 1
	}
	if m.Layer == types.LayerEpisodic {
		return 0.5
	}
	return 0
}

var tickerToken = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// financeKeywords flag a retrieval as finance-oriented.
var financeKeywords = []string{
	"stock", "stocks", "share", "shares", "portfolio", "invest",
	"investment", "ticker", "dividend", "market", "price target",
	"holding", "holdings", "etf", "crypto",
}

// IsFinanceQuery reports whether a query should attach the portfolio
// projection: it mentions a finance keyword or carries a ticker-shaped
// token.
func IsFinanceQuery(query string) bool {
	if query == "" {
		return false
	}
	lower := strings.ToLower(query)
	for _, kw := range financeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return tickerToken.MatchString(query)
}
