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

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/teradata-labs/mnemo/pkg/narrative"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func (s *Server) handleRetrieveGet(w http.ResponseWriter, r *http.Request) {
	req, err := retrievalRequestFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.retrieve(w, r, req)
}

func (s *Server) handleRetrievePost(w http.ResponseWriter, r *http.Request) {
	var req types.RetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.retrieve(w, r, req)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, req types.RetrievalRequest) {
	if req.UserID == "" {
		s.writeError(w, errors.Join(types.ErrValidation, errors.New("user_id is required")))
		return
	}

	result, err := s.deps.Retriever.Retrieve(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"memories":    result.Memories,
		"total":       result.Total,
		"diagnostics": result.Diagnostics,
		"finance":     result.Finance,
		"synthesis":   result.Synthesis,
		"persona":     result.Persona,
	})
}

func (s *Server) handleRetrieveStructured(w http.ResponseWriter, r *http.Request) {
	var req types.RetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, errors.Join(types.ErrValidation, errors.New("user_id is required")))
		return
	}

	buckets, result, err := s.deps.Retriever.RetrieveStructured(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"layers":      buckets,
		"total":       result.Total,
		"diagnostics": result.Diagnostics,
	})
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	var req narrative.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, errors.Join(types.ErrValidation, errors.New("user_id is required")))
		return
	}

	n, err := s.deps.Narratives.Build(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"narrative":    n.Text,
		"chapters":     n.Chapters,
		"memory_count": n.MemoryCount,
		"diagnostics":  n.Diagnostics,
	})
}

// retrievalRequestFromQuery maps GET query parameters onto the typed
// retrieval contract.
func retrievalRequestFromQuery(r *http.Request) (types.RetrievalRequest, error) {
	q := r.URL.Query()
	req := types.RetrievalRequest{
		UserID: q.Get("user_id"),
		Query:  q.Get("query"),
		Filters: types.RetrievalFilters{
			Layer: types.Layer(q.Get("layer")),
			Type:  types.MemoryType(q.Get("type")),
			Tag:   q.Get("tag"),
		},
		Options: types.RetrievalOptions{
			Persona:    q.Get("persona"),
			Synthesize: q.Get("synthesize") == "true",
			Sort:       types.SortOrder(q.Get("sort")),
		},
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &req.Limit}, {"offset", &req.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return req, fmt.Errorf("%w: %s must be a non-negative integer", types.ErrValidation, p.name)
		}
		*p.dst = v
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &req.Filters.From}, {"to", &req.Filters.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, fmt.Errorf("%w: %s must be RFC3339", types.ErrValidation, p.name)
		}
		*p.dst = &t
	}
	return req, nil
}
