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

package maintenance

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule sweeps every active user once a day, off-peak.
const DefaultSchedule = "30 3 * * *"

// Scheduler drives the daily maintenance sweep with a cron engine.
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	schedule string
	logger   *zap.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewScheduler builds the sweep scheduler. schedule is a standard
// 5-field cron expression; empty means DefaultSchedule.
func NewScheduler(engine *Engine, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		engine:   engine,
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start registers the sweep and begins the cron engine.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Maintenance scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Sweep runs the full job set for every active user, serially. A
// per-user failure is logged and the sweep continues.
func (s *Scheduler) Sweep(ctx context.Context) {
	users, err := s.engine.ActiveUsers(ctx)
	if err != nil {
		s.logger.Error("Maintenance sweep aborted", zap.Error(err))
		return
	}
	s.logger.Info("Maintenance sweep starting", zap.Int("users", len(users)))

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		report, err := s.engine.RunAll(ctx, userID)
		if err != nil {
			s.logger.Warn("Maintenance run skipped",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Maintenance run finished",
			zap.String("user_id", userID),
			zap.Int64("duration_ms", report.DurationMS),
			zap.Int("errors", len(report.Errors)))
	}
}

// Stop halts the cron engine and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Maintenance scheduler stopped")
}
