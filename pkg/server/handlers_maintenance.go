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

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// compactAllWorkers bounds the fan-out of a fleet-wide compaction.
const compactAllWorkers = 4

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		s.writeError(w, types.ErrPoolSaturated)
		return
	}
	defer s.release()

	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	report, err := s.deps.Maintenance.RunAll(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"report": report,
	})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		s.writeError(w, types.ErrPoolSaturated)
		return
	}
	defer s.release()

	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	merged, err := s.deps.Maintenance.Compact(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"merged": merged,
	})
}

// handleCompactAll compacts every active user with a bounded worker
// group. Per-user failures are logged and counted, not fatal.
func (s *Server) handleCompactAll(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		s.writeError(w, types.ErrPoolSaturated)
		return
	}
	defer s.release()

	users, err := s.deps.Maintenance.ActiveUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	var (
		g, ctx = errgroup.WithContext(r.Context())
		merged = make([]int, len(users))
		failed = make([]bool, len(users))
	)
	g.SetLimit(compactAllWorkers)
	for i, userID := range users {
		g.Go(func() error {
			n, err := s.deps.Maintenance.Compact(ctx, userID)
			if err != nil {
				failed[i] = true
				s.logger.Warn("Compaction failed for user",
					zap.String("user_id", userID),
					zap.Error(err))
				return nil
			}
			merged[i] = n
			return nil
		})
	}
	_ = g.Wait()

	total, failures := 0, 0
	for i := range users {
		total += merged[i]
		if failed[i] {
			failures++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"users":    len(users),
		"merged":   total,
		"failures": failures,
	})
}

func (s *Server) handleMaintenanceProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"progress": s.deps.Maintenance.ProgressFor(userID),
	})
}

func (s *Server) handleForceUnlock(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Maintenance.ForceUnlock(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}
