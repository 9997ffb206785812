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
	"context"
	"strings"

	"github.com/teradata-labs/mnemo/pkg/llm"
)

// Turn is one conversational message entering the pipeline.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WorthinessResult is the filter's verdict.
type WorthinessResult struct {
	Worthy bool   `json:"worthy"`
	Reason string `json:"reason"`
}

// stopPhrases short-circuit trivially unworthy turns without an LLM
// call.
var stopPhrases = map[string]bool{
	"ok": true, "okay": true, "k": true, "kk": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"yes": true, "no": true, "yep": true, "nope": true, "yeah": true,
	"sure": true, "got it": true, "sounds good": true, "cool": true,
	"hi": true, "hello": true, "hey": true, "bye": true, "goodbye": true,
	"lol": true, "haha": true, "nice": true, "great": true,
}

// maxTrivialTokens: histories whose user turns never exceed this many
// tokens are unworthy without consulting the model.
const maxTrivialTokens = 3

const worthinessSystem = `You decide whether a conversation contains information worth remembering about the user: facts, preferences, events, skills, feelings, or plans.
Answer with exactly one word, WORTHY or UNWORTHY, followed by a short reason.`

// CheckWorthiness filters trivial histories. The heuristic pre-filter
// decides clear cases; the LLM is consulted only when inconclusive.
func (p *Pipeline) CheckWorthiness(ctx context.Context, history []Turn) (WorthinessResult, error) {
	userTurns := 0
	longest := 0
	allStop := true
	for _, t := range history {
		if t.Role != "user" {
			continue
		}
		userTurns++
		content := strings.TrimSpace(strings.ToLower(t.Content))
		if !stopPhrases[strings.Trim(content, ".!?")] {
			allStop = false
		}
		if n := len(strings.Fields(content)); n > longest {
			longest = n
		}
	}

	if userTurns == 0 {
		return WorthinessResult{Worthy: false, Reason: "no user turns"}, nil
	}
	if allStop {
		return WorthinessResult{Worthy: false, Reason: "acknowledgement only"}, nil
	}
	if longest <= maxTrivialTokens {
		return WorthinessResult{Worthy: false, Reason: "all user turns trivial"}, nil
	}
	// Long substantive turns skip the model too.
	if longest >= 12 {
		return WorthinessResult{Worthy: true, Reason: "substantive user content"}, nil
	}

	resp, err := p.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: worthinessSystem},
		{Role: "user", Content: renderHistory(history)},
	})
	if err != nil {
		// Fail open: a worthiness outage must not drop memories.
		return WorthinessResult{Worthy: true, Reason: "worthiness check unavailable"}, nil
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Content))
	if strings.HasPrefix(verdict, "UNWORTHY") {
		return WorthinessResult{Worthy: false, Reason: trimVerdict(resp.Content)}, nil
	}
	return WorthinessResult{Worthy: true, Reason: trimVerdict(resp.Content)}, nil
}

func trimVerdict(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"WORTHY", "UNWORTHY", "worthy", "unworthy"} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimSpace(strings.TrimLeft(s, ":,.- "))
}

func renderHistory(history []Turn) string {
	var b strings.Builder
	for _, t := range history {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
