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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/llm"
)

// scriptedModel returns canned responses in order, or a fixed error.
type scriptedModel struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedModel) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &llm.Response{Content: s.responses[idx]}, nil
}
func (s *scriptedModel) Name() string  { return "scripted" }
func (s *scriptedModel) Model() string { return "scripted-model" }

func turns(contents ...string) []Turn {
	out := make([]Turn, len(contents))
	for i, c := range contents {
		out[i] = Turn{Role: "user", Content: c}
	}
	return out
}

func TestCheckWorthiness_Heuristics(t *testing.T) {
	model := &scriptedModel{responses: []string{"WORTHY: something"}}
	p := New(model, nil, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		history []Turn
		worthy  bool
	}{
		{"no user turns", []Turn{{Role: "assistant", Content: "hello there"}}, false},
		{"pure acknowledgement", turns("ok", "thanks!"), false},
		{"all trivial", turns("see you soon"), false},
		{"long substantive", turns("I just moved to Lisbon last month and started a new job at a fintech startup there"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.CheckWorthiness(ctx, tt.history)
			require.NoError(t, err)
			assert.Equal(t, tt.worthy, res.Worthy, res.Reason)
		})
	}
	assert.Zero(t, model.calls, "clear cases never consult the model")
}

func TestCheckWorthiness_ConsultsModelWhenInconclusive(t *testing.T) {
	ctx := context.Background()
	// 5 tokens: above trivial, below the substantive threshold.
	history := turns("I adopted a cat yesterday")

	model := &scriptedModel{responses: []string{"UNWORTHY: small talk"}}
	p := New(model, nil, nil, nil, zaptest.NewLogger(t))
	res, err := p.CheckWorthiness(ctx, history)
	require.NoError(t, err)
	assert.False(t, res.Worthy)
	assert.Equal(t, "small talk", res.Reason)
	assert.Equal(t, 1, model.calls)

	model = &scriptedModel{responses: []string{"WORTHY: new pet"}}
	p = New(model, nil, nil, nil, zaptest.NewLogger(t))
	res, err = p.CheckWorthiness(ctx, history)
	require.NoError(t, err)
	assert.True(t, res.Worthy)
}

func TestCheckWorthiness_FailsOpen(t *testing.T) {
	model := &scriptedModel{err: errors.New("model down")}
	p := New(model, nil, nil, nil, zaptest.NewLogger(t))

	res, err := p.CheckWorthiness(context.Background(), turns("I adopted a cat yesterday"))
	require.NoError(t, err)
	assert.True(t, res.Worthy, "a worthiness outage must not drop memories")
}
