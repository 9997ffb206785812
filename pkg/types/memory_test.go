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
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMemory() *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:         MemoryID("user-1", "likes espresso", now),
		UserID:     "user-1",
		Content:    "likes espresso",
		Layer:      LayerSemantic,
		Type:       TypeExplicit,
		Importance: 0.5,
		Confidence: 1,
		CreatedAt:  now,
		LastAccess: now,
		Source:     SourceDirectAPI,
	}
}

func TestMemoryID_DeterministicWithinMinute(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 5, 0, time.UTC)

	a := MemoryID("user-1", "likes espresso", base)
	b := MemoryID("user-1", "likes espresso", base.Add(40*time.Second))
	assert.Equal(t, a, b, "same content in the same minute must collide")

	c := MemoryID("user-1", "likes espresso", base.Add(2*time.Minute))
	assert.NotEqual(t, a, c)

	d := MemoryID("user-2", "likes espresso", base)
	assert.NotEqual(t, a, d)

	assert.True(t, strings.HasPrefix(a, "mem_"))
}

func TestMemoryValidate(t *testing.T) {
	m := validMemory()
	require.NoError(t, m.Validate())

	tests := []struct {
		name   string
		mutate func(*Memory)
	}{
		{"missing user", func(m *Memory) { m.UserID = "" }},
		{"empty content", func(m *Memory) { m.Content = "" }},
		{"content too long", func(m *Memory) { m.Content = strings.Repeat("a", MaxContentLength+1) }},
		{"unknown layer", func(m *Memory) { m.Layer = "working" }},
		{"unknown type", func(m *Memory) { m.Type = "inferred" }},
		{"importance above 1", func(m *Memory) { m.Importance = 1.01 }},
		{"negative confidence", func(m *Memory) { m.Confidence = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMemory()
			tt.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestMemoryValidate_ContentAtLimit(t *testing.T) {
	m := validMemory()
	m.Content = strings.Repeat("a", MaxContentLength)
	assert.NoError(t, m.Validate())
}

func TestTouch(t *testing.T) {
	m := validMemory()
	now := time.Now().UTC().Add(time.Hour)
	m.Touch(now)
	assert.Equal(t, 1, m.AccessCount)
	assert.Equal(t, now, m.LastAccess)
}

func TestEpisodicFieldsValidate(t *testing.T) {
	e := &EpisodicFields{EventTimestamp: time.Now(), EmotionalValence: -0.5, ImportanceScore: 0.9}
	require.NoError(t, e.Validate())

	e.EventTimestamp = time.Time{}
	assert.ErrorIs(t, e.Validate(), ErrValidation)

	e = &EpisodicFields{EventTimestamp: time.Now(), EmotionalValence: 1.01}
	assert.ErrorIs(t, e.Validate(), ErrValidation)
}

func TestEmotionalFieldsValidate(t *testing.T) {
	e := &EmotionalFields{EmotionalState: "calm", Valence: 0.2, Arousal: 0.3}
	require.NoError(t, e.Validate())

	e.EmotionalState = ""
	assert.ErrorIs(t, e.Validate(), ErrValidation)

	e = &EmotionalFields{EmotionalState: "anxious", Valence: -1.5}
	assert.ErrorIs(t, e.Validate(), ErrValidation)
}

func TestProceduralFieldsValidate(t *testing.T) {
	p := &ProceduralFields{SkillName: "sourdough", ProficiencyLevel: ProficiencyIntermediate, SuccessRate: 0.7}
	require.NoError(t, p.Validate())

	p.ProficiencyLevel = "wizard"
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestValidTicker(t *testing.T) {
	assert.True(t, ValidTicker("NVDA"))
	assert.True(t, ValidTicker("F"))
	assert.False(t, ValidTicker("nvda"))
	assert.False(t, ValidTicker("TOOLONG"))
	assert.False(t, ValidTicker(""))
	assert.False(t, ValidTicker("BRK.B"))
}

func TestPortfolioHoldingValidate(t *testing.T) {
	h := &PortfolioHolding{UserID: "user-1", Ticker: "AAPL", Shares: 10, AvgPrice: 180}
	require.NoError(t, h.Validate())

	h.Ticker = "aapl"
	assert.ErrorIs(t, h.Validate(), ErrValidation)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{ErrValidation, KindValidation},
		{fmt.Errorf("%w: detail", ErrEmbedding), KindEmbedding},
		{fmt.Errorf("%w: chroma down: %v", ErrStorage, errors.New("refused")), KindStorage},
		{ErrUnavailable, KindDependencyUnavailable},
		{ErrConsentDenied, KindConsentDenied},
		{ErrTimeout, KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{ErrNotFound, KindNotFound},
		{ErrForbidden, KindForbidden},
		{ErrPoolSaturated, KindPoolSaturated},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), "for %v", tt.err)
	}
}

func TestPersistenceOutcome(t *testing.T) {
	o := PersistenceOutcome{
		MemoryID: "mem_x",
		Outcomes: []AdapterOutcome{
			{Adapter: AdapterVector, OK: true},
			{Adapter: AdapterEpisodic, OK: false, ErrorKind: KindStorage},
		},
	}
	assert.True(t, o.Succeeded())
	assert.Equal(t, []string{AdapterEpisodic}, o.Failed())

	o.Outcomes[0].OK = false
	assert.False(t, o.Succeeded())
}
