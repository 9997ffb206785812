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

	"github.com/teradata-labs/mnemo/pkg/intents"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func (s *Server) handleIntentCreate(w http.ResponseWriter, r *http.Request) {
	var intent types.ScheduledIntent
	if err := decodeJSON(r, &intent); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.deps.Intents.Create(r.Context(), &intent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "success",
		"intent": created,
	})
}

func (s *Server) handleIntentList(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	list, err := s.deps.Intents.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"intents": list,
		"total":   len(list),
	})
}

// handleIntentPending serves the proactive worker's poll. user_id is
// optional: without it, due intents across all users are returned.
func (s *Server) handleIntentPending(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, errors.Join(types.ErrValidation, errors.New("limit must be a non-negative integer")))
			return
		}
		limit = v
	}

	pending, err := s.deps.Intents.Pending(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"intents": pending,
		"total":   len(pending),
	})
}

func (s *Server) handleIntentGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")

	intent, err := s.deps.Intents.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if intent.UserID != userID {
		s.writeError(w, fmt.Errorf("%w: intent %s belongs to another user", types.ErrForbidden, id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"intent": intent,
	})
}

func (s *Server) handleIntentPatch(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")

	var patch intents.Patch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.deps.Intents.Update(r.Context(), id, userID, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"intent": updated,
	})
}

func (s *Server) handleIntentDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")

	if err := s.deps.Intents.Delete(r.Context(), id, userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"intent_id": id,
	})
}

func (s *Server) handleIntentFire(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req intents.FireRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.deps.Intents.Fire(r.Context(), id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIntentExecutions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, errors.Join(types.ErrValidation, errors.New("limit must be a non-negative integer")))
			return
		}
		limit = v
	}

	executions, err := s.deps.Intents.Executions(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"executions": executions,
		"total":      len(executions),
	})
}
