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
	"net/http"

	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/orchestrator"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func (s *Server) handleOrchestratorMessage(w http.ResponseWriter, r *http.Request) {
	var msg orchestrator.Message
	if err := decodeJSON(r, &msg); err != nil {
		s.writeError(w, err)
		return
	}

	reply, err := s.deps.Orchestrator.HandleMessage(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"injections": reply.Injections,
		"flushed":    reply.Flushed,
		"counters":   reply.Counters,
	})
}

// transcriptRequest carries a complete conversation for one-shot ingestion.
type transcriptRequest struct {
	UserID   string            `json:"user_id" validate:"required"`
	History  []extraction.Turn `json:"history"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

func (s *Server) handleOrchestratorTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		s.writeError(w, types.ErrPoolSaturated)
		return
	}
	defer s.release()

	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.deps.Orchestrator.HandleTranscript(r.Context(), req.UserID, req.History, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"worthy":   result.Worthy,
		"reason":   result.Reason,
		"counters": result.Counters,
	})
}
