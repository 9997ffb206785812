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

package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/mnemo/pkg/types"
)

func TestRecordMemoryRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	m := &types.Memory{
		ID: "mem_a", UserID: "user-1",
		Content:     "prefers window seats",
		Layer:       types.LayerSemantic,
		Type:        types.TypeImplicit,
		Importance:  0.6,
		Confidence:  0.9,
		CreatedAt:   now,
		LastAccess:  now,
		AccessCount: 4,
		ReplayCount: 2,
		Tags:        []string{"travel"},
		PersonaTags: []string{"travel"},
		Source:      types.SourceStorePipeline,
		Embedding:   []float32{1, 0, 0},
		Metadata:    map[string]any{"session": "s-9"},
	}

	rec := RecordFromMemory(m)
	assert.Equal(t, "mem_a", rec.ID)
	assert.Equal(t, m.Content, rec.Document)
	assert.Equal(t, "user-1", MetaString(rec.Metadata, "user_id"))
	assert.Equal(t, "s-9", MetaString(rec.Metadata, "session"), "open metadata passes through")

	got := MemoryFromRecord(rec)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.UserID, got.UserID)
	assert.Equal(t, m.Layer, got.Layer)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Importance, got.Importance)
	assert.Equal(t, m.Confidence, got.Confidence)
	assert.Equal(t, m.AccessCount, got.AccessCount)
	assert.Equal(t, m.ReplayCount, got.ReplayCount)
	assert.Equal(t, m.Tags, got.Tags)
	assert.Equal(t, m.Source, got.Source)
	assert.Equal(t, now.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, now.Unix(), got.LastAccess.Unix())
	assert.Equal(t, "s-9", got.Metadata["session"])
	_, claimed := got.Metadata["user_id"]
	assert.False(t, claimed, "record-owned keys stay out of open metadata")
}

func TestNormalizeMetadata(t *testing.T) {
	out := NormalizeMetadata(map[string]any{
		"s":    "str",
		"b":    true,
		"n":    1.5,
		"nil":  nil,
		"list": []string{"a", "b"},
		"obj":  map[string]any{"k": "v"},
	})
	assert.Equal(t, "str", out["s"])
	assert.Equal(t, true, out["b"])
	assert.Equal(t, 1.5, out["n"])
	_, hasNil := out["nil"]
	assert.False(t, hasNil, "null values are dropped")
	assert.Equal(t, `["a","b"]`, out["list"])
	assert.Equal(t, `{"k":"v"}`, out["obj"])

	assert.Nil(t, NormalizeMetadata(nil))
}

func TestMatches(t *testing.T) {
	now := time.Now().UTC()
	rec := Record{
		ID: "mem_a",
		Metadata: map[string]any{
			"user_id": "user-1",
			"layer":   "semantic",
			"type":    "explicit",
			"tags":    `["travel","food"]`,
		},
		CreatedAt: now,
	}

	assert.True(t, matches(rec, Filter{}))
	assert.True(t, matches(rec, Filter{UserID: "user-1", Layer: types.LayerSemantic, Tag: "food"}))
	assert.False(t, matches(rec, Filter{UserID: "user-2"}))
	assert.False(t, matches(rec, Filter{Layer: types.LayerEpisodic}))
	assert.False(t, matches(rec, Filter{Tag: "sports"}))

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	assert.True(t, matches(rec, Filter{From: &past, To: &future}))
	assert.False(t, matches(rec, Filter{From: &future}))
	assert.False(t, matches(rec, Filter{To: &past}))
}

func TestMetaHelpers(t *testing.T) {
	meta := map[string]any{"s": "v", "b": true}
	assert.Equal(t, "v", MetaString(meta, "s"))
	assert.Equal(t, "", MetaString(meta, "b"))
	assert.Equal(t, "", MetaString(nil, "s"))
	assert.True(t, MetaBool(meta, "b"))
	assert.False(t, MetaBool(meta, "s"))

	require.Equal(t, 2.0, metaFloat(2.0))
	assert.Equal(t, 2.0, metaFloat(2))
	assert.Equal(t, 2.0, metaFloat("2"))
	assert.Equal(t, 0.0, metaFloat(struct{}{}))
}
