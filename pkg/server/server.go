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

// Package server is the HTTP surface: request validation, the REST
// routes the collaborators consume, startup dependency checks, and
// backpressure for the shared ingestion pool.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/intents"
	"github.com/teradata-labs/mnemo/pkg/maintenance"
	"github.com/teradata-labs/mnemo/pkg/narrative"
	"github.com/teradata-labs/mnemo/pkg/orchestrator"
	"github.com/teradata-labs/mnemo/pkg/persistence"
	"github.com/teradata-labs/mnemo/pkg/portfolio"
	"github.com/teradata-labs/mnemo/pkg/profile"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *extraction.Pipeline
	Retriever    *retrieval.Engine
	Narratives   *narrative.Builder
	Profiles     *profile.Projector
	Portfolios   *portfolio.Projector
	Maintenance  *maintenance.Engine
	Intents      *intents.Engine
	Persister    *persistence.Orchestrator
	Embedder     embedding.Engine

	// Health probes.
	Vectors vector.Store
	DB      *relational.DB
	Cache   *cache.Cache
}

// Server is the HTTP server.
type Server struct {
	deps       Deps
	httpServer *http.Server
	corsConfig CORSConfig
	logger     *zap.Logger

	// pool bounds concurrent ingestion and maintenance work; a full
	// pool returns 429.
	pool chan struct{}
}

// New builds the server. poolSize bounds the shared ingestion pool.
func New(addr string, deps Deps, corsConfig CORSConfig, poolSize int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poolSize <= 0 {
		poolSize = 16
	}
	s := &Server{
		deps:       deps,
		corsConfig: corsConfig,
		logger:     logger,
		pool:       make(chan struct{}, poolSize),
		httpServer: &http.Server{
			Addr:        addr,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
	}
	s.httpServer.Handler = s.handler()
	return s
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/full", s.handleHealthFull)

	mux.HandleFunc("POST /v1/orchestrator/message", s.handleOrchestratorMessage)
	mux.HandleFunc("POST /v1/orchestrator/transcript", s.handleOrchestratorTranscript)
	mux.HandleFunc("POST /v1/orchestrator/retrieve", s.handleRetrievePost)

	mux.HandleFunc("POST /v1/memories/direct", s.handleDirectStore)
	mux.HandleFunc("DELETE /v1/memories/{id}", s.handleDeleteMemory)
	mux.HandleFunc("POST /v1/store", s.handleStorePipeline)

	mux.HandleFunc("GET /v1/retrieve", s.handleRetrieveGet)
	mux.HandleFunc("POST /v1/retrieve", s.handleRetrievePost)
	mux.HandleFunc("POST /v1/retrieve/structured", s.handleRetrieveStructured)
	mux.HandleFunc("POST /v1/narrative", s.handleNarrative)

	mux.HandleFunc("GET /v1/profile", s.handleProfileGet)
	mux.HandleFunc("GET /v1/profile/completeness", s.handleProfileCompleteness)
	mux.HandleFunc("GET /v1/profile/{category}", s.handleProfileCategory)
	mux.HandleFunc("PUT /v1/profile/{category}/{field}", s.handleProfilePut)

	mux.HandleFunc("GET /v1/portfolio/summary", s.handlePortfolioSummary)
	mux.HandleFunc("POST /v1/portfolio/holding", s.handlePortfolioWrite)
	mux.HandleFunc("PUT /v1/portfolio/holding", s.handlePortfolioWrite)
	mux.HandleFunc("DELETE /v1/portfolio/holding", s.handlePortfolioDelete)

	mux.HandleFunc("POST /v1/maintenance", s.handleMaintenance)
	mux.HandleFunc("POST /v1/maintenance/compact", s.handleCompact)
	mux.HandleFunc("POST /v1/maintenance/compact_all", s.handleCompactAll)
	mux.HandleFunc("GET /v1/maintenance/progress", s.handleMaintenanceProgress)
	mux.HandleFunc("POST /v1/maintenance/unlock", s.handleForceUnlock)

	mux.HandleFunc("POST /v1/intents", s.handleIntentCreate)
	mux.HandleFunc("GET /v1/intents", s.handleIntentList)
	mux.HandleFunc("GET /v1/intents/pending", s.handleIntentPending)
	mux.HandleFunc("GET /v1/intents/{id}", s.handleIntentGet)
	mux.HandleFunc("PATCH /v1/intents/{id}", s.handleIntentPatch)
	mux.HandleFunc("DELETE /v1/intents/{id}", s.handleIntentDelete)
	mux.HandleFunc("POST /v1/intents/{id}/fire", s.handleIntentFire)
	mux.HandleFunc("GET /v1/intents/{id}/executions", s.handleIntentExecutions)

	var handler http.Handler = mux
	if s.corsConfig.Enabled {
		handler = s.corsMiddleware(mux)
	}
	return handler
}

// Start runs the listener until Stop or a listener failure.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// acquire takes a pool slot, or reports saturation for a 429.
func (s *Server) acquire() bool {
	select {
	case s.pool <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() { <-s.pool }

// ValidateDependencies is the startup preflight: every required store
// must answer its health probe before the server accepts traffic.
func ValidateDependencies(ctx context.Context, deps Deps) error {
	checks := map[string]func(context.Context) types.HealthStatus{
		"vector":     deps.Vectors.Health,
		"relational": deps.DB.Health,
	}
	if deps.Cache != nil {
		checks["cache"] = deps.Cache.Health
	}

	for name, probe := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status := probe(checkCtx)
		cancel()
		if !status.OK {
			return fmt.Errorf("%s store preflight failed: %s", name, status.Error)
		}
	}
	return nil
}
