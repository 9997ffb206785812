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
	"fmt"
	"net/http"

	"github.com/teradata-labs/mnemo/pkg/profile"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	fields, err := s.deps.Profiles.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"user_id": userID,
		"profile": fields,
	})
}

func (s *Server) handleProfileCompleteness(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	pct, populated, err := s.deps.Profiles.Completeness(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"user_id":          userID,
		"completeness_pct": pct,
		"populated_fields": populated,
	})
}

func (s *Server) handleProfileCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	category := r.PathValue("category")
	if !profile.ValidCategory(category) {
		s.writeError(w, fmt.Errorf("%w: unknown profile category %q", types.ErrValidation, category))
		return
	}

	fields, err := s.deps.Profiles.GetCategory(r.Context(), userID, category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"user_id":  userID,
		"category": category,
		"fields":   fields,
	})
}

// profilePutRequest sets one field explicitly.
type profilePutRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

func (s *Server) handleProfilePut(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	field := r.PathValue("field")
	if !profile.ValidCategory(category) {
		s.writeError(w, fmt.Errorf("%w: unknown profile category %q", types.ErrValidation, category))
		return
	}

	var req profilePutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Profiles.Put(r.Context(), req.UserID, category, field, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"category": category,
		"field":    field,
	})
}
