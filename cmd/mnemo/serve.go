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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/config"
	"github.com/teradata-labs/mnemo/pkg/embedding"
	"github.com/teradata-labs/mnemo/pkg/extraction"
	"github.com/teradata-labs/mnemo/pkg/graph"
	"github.com/teradata-labs/mnemo/pkg/intents"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/llm/factory"
	"github.com/teradata-labs/mnemo/pkg/maintenance"
	"github.com/teradata-labs/mnemo/pkg/migrations"
	"github.com/teradata-labs/mnemo/pkg/narrative"
	"github.com/teradata-labs/mnemo/pkg/orchestrator"
	"github.com/teradata-labs/mnemo/pkg/persistence"
	"github.com/teradata-labs/mnemo/pkg/portfolio"
	"github.com/teradata-labs/mnemo/pkg/profile"
	"github.com/teradata-labs/mnemo/pkg/retrieval"
	"github.com/teradata-labs/mnemo/pkg/server"
	"github.com/teradata-labs/mnemo/pkg/storage/cache"
	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
)

var maintenanceSchedule string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory service",
	Long: `Start the Mnemo HTTP server.

The server will:
- Connect to the configured vector, relational, and cache stores
- Apply pending schema migrations
- Start the streaming orchestrator and nightly maintenance scheduler
- Listen for REST requests on the configured address

Press Ctrl+C to gracefully shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&maintenanceSchedule, "maintenance-schedule", maintenance.DefaultSchedule,
		"Cron expression for the nightly maintenance sweep (empty disables it)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational store first: migrations gate everything else.
	db, err := relational.Open(ctx, cfg.RelationalDriver, cfg.RelationalDSN, logger)
	if err != nil {
		return fmt.Errorf("failed to open relational store: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrator, err := migrations.New(db, logger)
	if err != nil {
		return err
	}
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	vectors, err := openVectorStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = vectors.Close() }()

	// Cache is optional: without it synthesis caching and injection
	// dedupe degrade, nothing else.
	var c *cache.Cache
	if cfg.CacheURL != "" {
		c, err = cache.New(cfg.CacheURL, cfg.CacheTimeout, logger)
		if err != nil {
			logger.Warn("Cache unavailable, continuing without it", zap.Error(err))
			c = nil
		} else {
			defer func() { _ = c.Close() }()
		}
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.EmbeddingProvider,
		OllamaEndpoint: cfg.OllamaEndpoint,
		OllamaModel:    cfg.EmbedOllamaModel,
		GenAIAPIKey:    cfg.GenAIAPIKey,
		GenAIModel:     cfg.GenAIModel,
		Dimensions:     cfg.EmbeddingDimension,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}

	model, err := factory.NewProvider(factory.Config{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		OllamaEndpoint:  cfg.OllamaEndpoint,
		OllamaModel:     cfg.OllamaModel,
		Timeout:         cfg.LLMTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	logger.Info("LLM provider ready",
		zap.String("provider", model.Name()),
		zap.String("model", model.Model()))

	deps := assemble(cfg, logger, db, vectors, c, embedder, model)

	if err := server.ValidateDependencies(ctx, deps); err != nil {
		return fmt.Errorf("dependency preflight failed: %w", err)
	}

	deps.Orchestrator.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		deps.Orchestrator.Stop(stopCtx)
	}()

	if maintenanceSchedule != "" {
		sched, err := maintenance.NewScheduler(deps.Maintenance, maintenanceSchedule, logger)
		if err != nil {
			return fmt.Errorf("invalid maintenance schedule: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	corsConfig := server.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORSOrigins
	}
	srv := server.New(cfg.HTTPAddr, deps, corsConfig, cfg.IngestionWorkers, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete cleanly", zap.Error(err))
	}
	return nil
}

// assemble wires the domain engines onto the opened stores.
func assemble(cfg *config.Config, logger *zap.Logger, db *relational.DB, vectors vector.Store, c *cache.Cache, embedder embedding.Engine, model llm.Provider) server.Deps {
	series := timeseries.New(db)
	typed := relational.NewTypedStore(db)
	g := graph.New(db, logger)
	folios := portfolio.New(db, series, logger)
	profiles := profile.New(db, logger)

	persister := persistence.New(vectors, series, typed, folios, g, logger)

	var synthModel llm.Provider
	if cfg.SynthesisEnabled {
		synthModel = model
	}
	retriever := retrieval.New(vectors, embedder, series, retrieval.Options{
		Graph:      g,
		Portfolios: folios,
		Cache:      c,
		Model:      synthModel,
	}, logger)

	pipeline := extraction.New(model, embedder, retriever, persister, logger)
	orch := orchestrator.New(pipeline, retriever, c, logger)
	narratives := narrative.New(retriever, model, logger)

	workerID := fmt.Sprintf("mnemo-%s", uuid.NewString()[:8])
	maint := maintenance.New(vectors, series, typed, db, g, model, workerID, logger)

	intentEngine := intents.New(db, logger)

	return server.Deps{
		Orchestrator: orch,
		Pipeline:     pipeline,
		Retriever:    retriever,
		Narratives:   narratives,
		Profiles:     profiles,
		Portfolios:   folios,
		Maintenance:  maint,
		Intents:      intentEngine,
		Persister:    persister,
		Embedder:     embedder,
		Vectors:      vectors,
		DB:           db,
		Cache:        c,
	}
}

// openVectorStore selects the configured vector backend.
func openVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "chroma":
		return vector.NewChromaStore(ctx, cfg.ChromaURL, cfg.ChromaCollection, cfg.EmbeddingDimension, logger)
	case "sqlite":
		return vector.NewSQLiteStore(ctx, cfg.VectorSQLitePath, cfg.EmbeddingDimension, logger)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.VectorBackend)
	}
}
