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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// ChromaStore talks to a Chroma server over its v1 REST API. The
// collection is created on first use with cosine distance and the
// configured dimension.
type ChromaStore struct {
	baseURL      string
	collection   string
	collectionID string
	dimensions   int
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewChromaStore creates the client and ensures the collection exists.
func NewChromaStore(ctx context.Context, baseURL, collection string, dimensions int, logger *zap.Logger) (*ChromaStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	s := &ChromaStore{
		baseURL:    baseURL,
		collection: collection,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromaStore) ensureCollection(ctx context.Context) error {
	payload := map[string]any{
		"name":          s.collection,
		"get_or_create": true,
		"metadata": map[string]any{
			"hnsw:space": "cosine",
			"dimension":  s.dimensions,
		},
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections", payload, &result); err != nil {
		return fmt.Errorf("failed to ensure chroma collection: %w", err)
	}
	s.collectionID = result.ID
	s.logger.Info("Chroma collection ready",
		zap.String("collection", s.collection),
		zap.String("id", s.collectionID),
		zap.Int("dimensions", s.dimensions))
	return nil
}

func (s *ChromaStore) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chroma request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read chroma response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode chroma response: %w", err)
		}
	}
	return nil
}

func (s *ChromaStore) collectionPath(op string) string {
	return fmt.Sprintf("/api/v1/collections/%s/%s", s.collectionID, op)
}

// chromaWhere builds the metadata filter for a query.
func chromaWhere(f Filter) map[string]any {
	var clauses []map[string]any
	if f.UserID != "" {
		clauses = append(clauses, map[string]any{"user_id": f.UserID})
	}
	if f.Layer != "" {
		clauses = append(clauses, map[string]any{"layer": string(f.Layer)})
	}
	if f.Type != "" {
		clauses = append(clauses, map[string]any{"type": string(f.Type)})
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return map[string]any{"$and": clauses}
	}
}

// Upsert writes a record keyed on id.
func (s *ChromaStore) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != s.dimensions {
		return fmt.Errorf("%w: embedding dimension %d does not match configured %d",
			types.ErrValidation, len(rec.Embedding), s.dimensions)
	}

	meta := NormalizeMetadata(rec.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	meta["created_at_unix"] = createdAt.UTC().Unix()

	payload := map[string]any{
		"ids":        []string{rec.ID},
		"embeddings": [][]float32{rec.Embedding},
		"documents":  []string{rec.Document},
		"metadatas":  []map[string]any{meta},
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("upsert"), payload, nil); err != nil {
		return fmt.Errorf("chroma upsert failed: %w", err)
	}
	return nil
}

// Delete removes a record by id.
func (s *ChromaStore) Delete(ctx context.Context, id string) error {
	payload := map[string]any{"ids": []string{id}}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("delete"), payload, nil); err != nil {
		return fmt.Errorf("chroma delete failed: %w", err)
	}
	return nil
}

type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
	Embeddings [][]float32     `json:"embeddings"`
}

func recordFromChroma(id, doc string, meta map[string]any, emb []float32) Record {
	rec := Record{ID: id, Document: doc, Metadata: meta, Embedding: emb}
	if ts, ok := meta["created_at_unix"].(float64); ok {
		rec.CreatedAt = time.Unix(int64(ts), 0).UTC()
	}
	return rec
}

// Get fetches records by id.
func (s *ChromaStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	payload := map[string]any{
		"ids":     ids,
		"include": []string{"documents", "metadatas", "embeddings"},
	}
	var result chromaGetResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("get"), payload, &result); err != nil {
		return nil, fmt.Errorf("chroma get failed: %w", err)
	}

	records := make([]Record, 0, len(result.IDs))
	for i, id := range result.IDs {
		var doc string
		var meta map[string]any
		var emb []float32
		if i < len(result.Documents) {
			doc = result.Documents[i]
		}
		if i < len(result.Metadatas) {
			meta = result.Metadatas[i]
		}
		if i < len(result.Embeddings) {
			emb = result.Embeddings[i]
		}
		records = append(records, recordFromChroma(id, doc, meta, emb))
	}
	return records, nil
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// Query runs an ANN search with the filter pushed down as a where clause;
// tag and time-window constraints are post-filtered.
func (s *ChromaStore) Query(ctx context.Context, emb []float32, filter Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{emb},
		// Over-fetch to survive post-filtering of tag/time constraints.
		"n_results": topK * 3,
		"include":   []string{"documents", "metadatas", "distances"},
	}
	if where := chromaWhere(filter); where != nil {
		payload["where"] = where
	}

	var result chromaQueryResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("query"), payload, &result); err != nil {
		return nil, fmt.Errorf("chroma query failed: %w", err)
	}
	if len(result.IDs) == 0 {
		return nil, nil
	}

	var hits []Hit
	for i, id := range result.IDs[0] {
		var doc string
		var meta map[string]any
		var dist float64
		if len(result.Documents) > 0 && i < len(result.Documents[0]) {
			doc = result.Documents[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			meta = result.Metadatas[0][i]
		}
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			dist = result.Distances[0][i]
		}
		rec := recordFromChroma(id, doc, meta, nil)
		if !matches(rec, filter) {
			continue
		}
		hits = append(hits, Hit{Record: rec, Distance: dist})
	}

	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Scan pages through matching records via the collection get endpoint.
func (s *ChromaStore) Scan(ctx context.Context, filter Filter, offset, limit int) ([]Record, int, error) {
	if limit <= 0 {
		limit = 50
	}

	payload := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if where := chromaWhere(filter); where != nil {
		payload["where"] = where
	}

	var result chromaGetResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("get"), payload, &result); err != nil {
		return nil, 0, fmt.Errorf("chroma scan failed: %w", err)
	}

	var all []Record
	for i, id := range result.IDs {
		var doc string
		var meta map[string]any
		if i < len(result.Documents) {
			doc = result.Documents[i]
		}
		if i < len(result.Metadatas) {
			meta = result.Metadatas[i]
		}
		rec := recordFromChroma(id, doc, meta, nil)
		if matches(rec, filter) {
			all = append(all, rec)
		}
	}

	total := len(all)
	if offset >= total {
		return []Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Count returns the number of matching records.
func (s *ChromaStore) Count(ctx context.Context, filter Filter) (int, error) {
	_, total, err := s.Scan(ctx, filter, 0, 1)
	return total, err
}

// Health probes the server heartbeat endpoint.
func (s *ChromaStore) Health(ctx context.Context) types.HealthStatus {
	start := time.Now()
	err := s.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil)
	status := types.HealthStatus{
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// Close is a no-op for the HTTP client.
func (s *ChromaStore) Close() error { return nil }
