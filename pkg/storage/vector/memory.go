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
	"encoding/json"
	"strconv"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// Metadata keys mirroring the memory record in the vector store.
const (
	metaUserID      = "user_id"
	metaLayer       = "layer"
	metaType        = "type"
	metaImportance  = "importance"
	metaConfidence  = "confidence"
	metaCreatedAt   = "created_at"
	metaLastAccess  = "last_accessed_at"
	metaAccessCount = "access_count"
	metaReplayCount = "replay_count"
	metaTags        = "tags"
	metaPersonaTags = "persona_tags"
	metaSource      = "source"
)

// RecordFromMemory maps a memory onto a vector-store record. Open
// metadata passes through NormalizeMetadata; record keys win on
// collision.
func RecordFromMemory(m *types.Memory) Record {
	meta := NormalizeMetadata(m.Metadata)
	if meta == nil {
		meta = make(map[string]any, 12)
	}
	meta[metaUserID] = m.UserID
	meta[metaLayer] = string(m.Layer)
	meta[metaType] = string(m.Type)
	meta[metaImportance] = m.Importance
	meta[metaConfidence] = m.Confidence
	meta[metaCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339)
	meta[metaLastAccess] = m.LastAccess.UTC().Format(time.RFC3339)
	meta[metaAccessCount] = m.AccessCount
	meta[metaReplayCount] = m.ReplayCount
	meta[metaSource] = string(m.Source)
	if len(m.Tags) > 0 {
		b, _ := json.Marshal(m.Tags)
		meta[metaTags] = string(b)
	}
	if len(m.PersonaTags) > 0 {
		b, _ := json.Marshal(m.PersonaTags)
		meta[metaPersonaTags] = string(b)
	}

	return Record{
		ID:        m.ID,
		Embedding: m.Embedding,
		Document:  m.Content,
		Metadata:  meta,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// MemoryFromRecord rebuilds a memory from a vector-store record. Keys
// the record claims stay out of the open metadata map.
func MemoryFromRecord(rec Record) types.Memory {
	m := types.Memory{
		ID:        rec.ID,
		Embedding: rec.Embedding,
		Content:   rec.Document,
		CreatedAt: rec.CreatedAt,
		Metadata:  make(map[string]any),
	}
	for k, v := range rec.Metadata {
		switch k {
		case metaUserID:
			m.UserID = MetaString(rec.Metadata, k)
		case metaLayer:
			m.Layer = types.Layer(MetaString(rec.Metadata, k))
		case metaType:
			m.Type = types.MemoryType(MetaString(rec.Metadata, k))
		case metaImportance:
			m.Importance = metaFloat(v)
		case metaConfidence:
			m.Confidence = metaFloat(v)
		case metaCreatedAt:
			if t, err := time.Parse(time.RFC3339, MetaString(rec.Metadata, k)); err == nil {
				m.CreatedAt = t
			}
		case metaLastAccess:
			if t, err := time.Parse(time.RFC3339, MetaString(rec.Metadata, k)); err == nil {
				m.LastAccess = t
			}
		case metaAccessCount:
			m.AccessCount = int(metaFloat(v))
		case metaReplayCount:
			m.ReplayCount = int(metaFloat(v))
		case metaSource:
			m.Source = types.Source(MetaString(rec.Metadata, k))
		case metaTags:
			_ = json.Unmarshal([]byte(MetaString(rec.Metadata, k)), &m.Tags)
		case metaPersonaTags:
			_ = json.Unmarshal([]byte(MetaString(rec.Metadata, k)), &m.PersonaTags)
		default:
			m.Metadata[k] = v
		}
	}
	return m
}

// metaFloat coerces numeric metadata that may round-trip as float64,
// int, or a JSON-number string depending on the backend.
func metaFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
