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

// Package vector defines the vector-store adapter and its two backends:
// a Chroma HTTP client and an embedded SQLite fallback.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// Record is one vector-store row. Metadata values must be scalars;
// NormalizeMetadata serializes anything structured to canonical JSON.
type Record struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Filter restricts queries and scans. Zero values mean "no constraint".
type Filter struct {
	UserID string
	Layer  types.Layer
	Type   types.MemoryType
	Tag    string
	From   *time.Time
	To     *time.Time
}

// Hit is one query result with its cosine distance.
type Hit struct {
	Record   Record
	Distance float64
}

// Store is the vector-store adapter contract.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, ids []string) ([]Record, error)
	Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Hit, error)
	Scan(ctx context.Context, filter Filter, offset, limit int) ([]Record, int, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Health(ctx context.Context) types.HealthStatus
	Close() error
}

// NormalizeMetadata flattens metadata for vector-store storage: scalars
// pass through, everything structured is serialized to a canonical JSON
// string.
func NormalizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case string, bool,
			int, int32, int64,
			float32, float64:
			out[k] = v
		case nil:
			// Dropped: Chroma rejects null metadata values.
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprintf("%v", v)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// MetaString reads a string metadata value.
func MetaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

// MetaBool reads a boolean metadata value.
func MetaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	if b, ok := meta[key].(bool); ok {
		return b
	}
	return false
}

// sortHits orders hits by ascending distance (closest first).
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
}

// matches applies a Filter to a record's metadata, shared by the SQLite
// backend and by post-filtering of Chroma results.
func matches(rec Record, f Filter) bool {
	if f.UserID != "" && MetaString(rec.Metadata, "user_id") != f.UserID {
		return false
	}
	if f.Layer != "" && MetaString(rec.Metadata, "layer") != string(f.Layer) {
		return false
	}
	if f.Type != "" && MetaString(rec.Metadata, "type") != string(f.Type) {
		return false
	}
	if f.Tag != "" {
		var tags []string
		if raw := MetaString(rec.Metadata, "tags"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &tags)
		}
		found := false
		for _, t := range tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && rec.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
