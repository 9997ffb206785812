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
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

const healthProbeTimeout = 5 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealthFull probes every configured store concurrently.
func (s *Server) handleHealthFull(w http.ResponseWriter, r *http.Request) {
	probes := map[string]func(context.Context) types.HealthStatus{
		types.AdapterVector:     s.deps.Vectors.Health,
		types.AdapterRelational: s.deps.DB.Health,
	}
	if s.deps.Cache != nil {
		probes[types.AdapterCache] = s.deps.Cache.Health
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = make(map[string]types.HealthStatus, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe func(context.Context) types.HealthStatus) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			st := probe(ctx)
			mu.Lock()
			statuses[name] = st
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	overall := "ok"
	code := http.StatusOK
	for _, st := range statuses {
		if !st.OK {
			overall = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	s.writeJSON(w, code, map[string]any{
		"status": overall,
		"stores": statuses,
	})
}
