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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// SynthesisTTL caches synthesized answers keyed on query + result ids.
const SynthesisTTL = 300 * time.Second

const synthesisSystem = `You answer questions about a user using only the memories provided.
Cite the memory id in [brackets] after each fact you use.
If the memories do not contain the answer, say so plainly.`

// Synthesize grounds one LLM call on the retrieved memories. Responses
// are cached for SynthesisTTL under a key derived from the query and
// the exact result-id set.
func (e *Engine) Synthesize(ctx context.Context, userID, query string, scored []types.ScoredMemory) (string, error) {
	if e.model == nil {
		return "", fmt.Errorf("%w: no synthesis model configured", types.ErrUnavailable)
	}
	if len(scored) == 0 {
		return "", nil
	}

	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Memory.ID)
	}
	key := synthesisKey(userID, query, ids)

	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, key); err == nil {
			return cached, nil
		} else if err != cache.ErrMiss {
			e.logger.Debug("Synthesis cache read failed", zap.Error(err))
		}
	}

	var grounding strings.Builder
	for _, s := range scored {
		fmt.Fprintf(&grounding, "[%s] (%s, importance %.2f) %s\n",
			s.Memory.ID, s.Memory.Layer, s.Memory.Importance, s.Memory.Content)
	}

	resp, err := e.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: synthesisSystem},
		{Role: "user", Content: fmt.Sprintf("Memories:\n%s\nQuestion: %s", grounding.String(), query)},
	})
	if err != nil {
		return "", fmt.Errorf("synthesis call failed: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.SetEx(ctx, key, resp.Content, SynthesisTTL); err != nil {
			e.logger.Debug("Synthesis cache write failed", zap.Error(err))
		}
	}
	return resp.Content, nil
}

func synthesisKey(userID, query string, ids []string) string {
	sum := sha256.Sum256([]byte(query + strings.Join(ids, ",")))
	return fmt.Sprintf("synth:%s:%s", userID, hex.EncodeToString(sum[:]))
}
