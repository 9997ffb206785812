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

// Package maintenance runs the background jobs that keep the memory
// stores healthy: consolidation, Ebbinghaus forgetting, compaction,
// promotion, and cross-store reconciliation. All jobs are idempotent
// and run under an exclusive per-user lock.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/graph"
	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/storage/vector"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// LockTTL bounds how long a maintenance lock can be held before a
// competing run may steal it.
const LockTTL = 5 * time.Minute

// Job names, used in audit rows and progress reports.
const (
	JobConsolidation  = "consolidation"
	JobForgetting     = "forgetting"
	JobCompaction     = "compaction"
	JobPromotion      = "promotion"
	JobReconciliation = "reconciliation"
)

// Report is the outcome of one maintenance run.
type Report struct {
	UserID      string         `json:"user_id"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMS  int64          `json:"duration_ms"`
	JobCounters map[string]int `json:"job_counters"`
	Errors      []string       `json:"errors,omitempty"`
}

// Progress is the live state exposed on the progress endpoint.
type Progress struct {
	Running    bool      `json:"running"`
	CurrentJob string    `json:"current_job,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
}

// Engine coordinates the jobs.
type Engine struct {
	vectors vector.Store
	series  *timeseries.Store
	typed   *relational.TypedStore
	db      *relational.DB
	graph   *graph.Store
	model   llm.Provider
	logger  *zap.Logger

	mu       sync.Mutex
	progress map[string]*Progress
	workerID string
}

// New builds a maintenance engine. graph and model may be nil; jobs
// that need them degrade (no edges written, lexical essence fallback).
func New(vectors vector.Store, series *timeseries.Store, typed *relational.TypedStore, db *relational.DB, g *graph.Store, model llm.Provider, workerID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerID == "" {
		workerID = fmt.Sprintf("maintenance-%d", time.Now().UnixNano())
	}
	return &Engine{
		vectors:  vectors,
		series:   series,
		typed:    typed,
		db:       db,
		graph:    g,
		model:    model,
		logger:   logger,
		progress: make(map[string]*Progress),
		workerID: workerID,
	}
}

// RunAll executes every job for one user under the exclusive lock.
// Re-running with identical inputs reproduces the same persisted state.
func (e *Engine) RunAll(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if err := e.acquireLock(ctx, userID); err != nil {
		return nil, err
	}
	defer e.releaseLock(context.WithoutCancel(ctx), userID)

	start := time.Now()
	report := &Report{
		UserID:      userID,
		StartedAt:   start.UTC(),
		JobCounters: make(map[string]int),
	}
	e.setProgress(userID, &Progress{Running: true, StartedAt: start.UTC()})

	jobs := []struct {
		name string
		run  func(ctx context.Context, userID string) (int, error)
	}{
		{JobConsolidation, e.Consolidate},
		{JobForgetting, e.Forget},
		{JobCompaction, e.Compact},
		{JobPromotion, e.Promote},
		{JobReconciliation, e.Reconcile},
	}
	for _, job := range jobs {
		e.setCurrentJob(userID, job.name)
		jobStart := time.Now()
		n, err := job.run(ctx, userID)
		report.JobCounters[job.name] = n
		status := "success"
		detail := fmt.Sprintf("%d affected", n)
		if err != nil {
			status = "failed"
			detail = err.Error()
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", job.name, err))
			e.logger.Error("Maintenance job failed",
				zap.String("user_id", userID),
				zap.String("job", job.name),
				zap.Error(err))
		}
		e.audit(ctx, userID, job.name, jobStart, status, detail)
		if ctx.Err() != nil {
			break
		}
	}

	report.DurationMS = time.Since(start).Milliseconds()
	e.setProgress(userID, &Progress{Running: false, LastReport: report})
	return report, nil
}

// ProgressFor returns the live state for a user's maintenance run.
func (e *Engine) ProgressFor(userID string) Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.progress[userID]; ok {
		return *p
	}
	return Progress{}
}

// acquireLock takes the per-user compare-and-set lock, stealing stale
// holds older than LockTTL.
func (e *Engine) acquireLock(ctx context.Context, userID string) error {
	seed := e.db.Rebind(`
		INSERT INTO maintenance_locks (user_id, locked_by, locked_at)
		VALUES (?, '', 0)
		ON CONFLICT (user_id) DO NOTHING`)
	if _, err := e.db.ExecContext(ctx, seed, userID); err != nil {
		return fmt.Errorf("failed to seed maintenance lock: %w", err)
	}

	now := time.Now().UTC().Unix()
	stale := time.Now().UTC().Add(-LockTTL).Unix()
	claim := e.db.Rebind(`
		UPDATE maintenance_locks SET locked_by = ?, locked_at = ?
		WHERE user_id = ? AND (locked_at = 0 OR locked_at < ?)`)
	res, err := e.db.ExecContext(ctx, claim, e.workerID, now, userID, stale)
	if err != nil {
		return fmt.Errorf("failed to acquire maintenance lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: maintenance already running for %s", types.ErrUnavailable, userID)
	}
	return nil
}

func (e *Engine) releaseLock(ctx context.Context, userID string) {
	release := e.db.Rebind(`
		UPDATE maintenance_locks SET locked_by = '', locked_at = 0
		WHERE user_id = ? AND locked_by = ?`)
	if _, err := e.db.ExecContext(ctx, release, userID, e.workerID); err != nil {
		e.logger.Warn("Failed to release maintenance lock",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// ForceUnlock clears the lock regardless of holder, for stale-lock
// recovery.
func (e *Engine) ForceUnlock(ctx context.Context, userID string) error {
	release := e.db.Rebind(`
		UPDATE maintenance_locks SET locked_by = '', locked_at = 0 WHERE user_id = ?`)
	if _, err := e.db.ExecContext(ctx, release, userID); err != nil {
		return fmt.Errorf("failed to force-unlock: %w", err)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, userID, job string, started time.Time, status, detail string) {
	insert := e.db.Rebind(`
		INSERT INTO maintenance_runs (user_id, job, started_at, duration_ms, status, detail)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := e.db.ExecContext(ctx, insert,
		userID, job, started.UTC().Unix(), time.Since(started).Milliseconds(), status, detail); err != nil {
		e.logger.Warn("Failed to record maintenance audit", zap.Error(err))
	}
}

func (e *Engine) setProgress(userID string, p *Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.progress[userID]; ok && p.LastReport == nil {
		p.LastReport = prev.LastReport
	}
	e.progress[userID] = p
}

func (e *Engine) setCurrentJob(userID, job string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.progress[userID]; ok {
		p.CurrentJob = job
	}
}

// ActiveUsers lists users with any persisted memory, for the scheduled
// daily sweep.
func (e *Engine) ActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM episodic_memories
		UNION
		SELECT DISTINCT user_id FROM procedural_memories
		UNION
		SELECT DISTINCT user_id FROM user_profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
