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

// Package intents is the scheduled-intent engine: trigger registry,
// due-check pending queries, worker claims, cooldown-gated fire
// callbacks, and an immutable execution audit. Condition expressions
// are validated here but evaluated by the proactive worker.
package intents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// ClaimTTL is how long a worker's claim on an intent excludes others.
const ClaimTTL = 5 * time.Minute

// Engine owns the scheduled_intents and intent_executions tables.
type Engine struct {
	db     *relational.DB
	logger *zap.Logger
	now    func() time.Time
}

// New builds an intent engine.
func New(db *relational.DB, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, logger: logger, now: time.Now}
}

// Create validates and registers a new intent, computing its first
// next_check.
func (e *Engine) Create(ctx context.Context, intent *types.ScheduledIntent) (*types.ScheduledIntent, error) {
	if err := Validate(intent); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	intent.ID = "intent_" + uuid.NewString()
	intent.Enabled = true
	intent.CreatedAt = now
	intent.UpdatedAt = now

	next, err := e.initialNextCheck(intent, now)
	if err != nil {
		return nil, err
	}
	intent.NextCheck = next

	if err := e.insertIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Patch is a partial intent update: only supplied fields change, and
// the result is re-validated.
type Patch struct {
	IntentName     *string                 `json:"intent_name,omitempty"`
	Description    *string                 `json:"description,omitempty"`
	Schedule       *types.TriggerSchedule  `json:"trigger_schedule,omitempty"`
	Condition      *types.TriggerCondition `json:"trigger_condition,omitempty"`
	ActionContext  *string                 `json:"action_context,omitempty"`
	ActionPriority *types.ActionPriority   `json:"action_priority,omitempty"`
	Enabled        *bool                   `json:"enabled,omitempty"`
	MaxExecutions  *int                    `json:"max_executions,omitempty"`
	ExpiresAt      *time.Time              `json:"expires_at,omitempty"`
}

// Update patches an intent.
func (e *Engine) Update(ctx context.Context, id, userID string, patch Patch) (*types.ScheduledIntent, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.UserID != userID {
		return nil, fmt.Errorf("%w: intent %s belongs to another user", types.ErrForbidden, id)
	}

	if patch.IntentName != nil {
		intent.IntentName = *patch.IntentName
	}
	if patch.Description != nil {
		intent.Description = *patch.Description
	}
	if patch.Schedule != nil {
		intent.Schedule = *patch.Schedule
	}
	if patch.Condition != nil {
		intent.Condition = *patch.Condition
	}
	if patch.ActionContext != nil {
		intent.ActionContext = *patch.ActionContext
	}
	if patch.ActionPriority != nil {
		intent.ActionPriority = *patch.ActionPriority
	}
	if patch.MaxExecutions != nil {
		intent.MaxExecutions = patch.MaxExecutions
	}
	if patch.ExpiresAt != nil {
		intent.ExpiresAt = patch.ExpiresAt
	}
	if patch.Enabled != nil {
		intent.Enabled = *patch.Enabled
		if intent.Enabled {
			intent.DisabledReason = ""
		} else {
			intent.DisabledReason = "user_disabled"
		}
	}

	if err := Validate(intent); err != nil {
		return nil, err
	}

	if patch.Schedule != nil || (patch.Enabled != nil && intent.Enabled) {
		next, err := e.initialNextCheck(intent, e.now().UTC())
		if err != nil {
			return nil, err
		}
		intent.NextCheck = next
	}

	if err := e.updateIntent(ctx, nil, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Pending returns intents whose next_check has arrived, ordered by
// next_check ascending. Condition triggers still inside their cooldown
// are included with CooldownActive set so workers can skip the
// evaluation.
func (e *Engine) Pending(ctx context.Context, userID string, limit int) ([]*types.ScheduledIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	now := e.now().UTC()

	query := `SELECT ` + intentColumns + ` FROM scheduled_intents
		WHERE enabled = 1 AND next_check IS NOT NULL AND next_check <= ?`
	args := []any{now.Unix()}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += fmt.Sprintf(` ORDER BY next_check ASC LIMIT %d`, limit)

	rows, err := e.db.QueryContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("pending query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.ScheduledIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		if remaining := e.cooldownRemaining(intent, now); remaining > 0 {
			intent.CooldownActive = true
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// Claim atomically stamps claimed_at on up to limit due intents so two
// workers never fire the same intent within ClaimTTL.
func (e *Engine) Claim(ctx context.Context, limit int) ([]*types.ScheduledIntent, error) {
	now := e.now().UTC()
	ids, err := e.db.ClaimRows(ctx, "scheduled_intents",
		"enabled = 1 AND next_check IS NOT NULL AND next_check <= ?",
		[]any{now.Unix()}, limit, ClaimTTL)
	if err != nil {
		return nil, err
	}

	out := make([]*types.ScheduledIntent, 0, len(ids))
	for _, id := range ids {
		intent, err := e.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

// FireRequest is the proactive worker's callback payload.
type FireRequest struct {
	Status         string         `json:"status"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	GateResult     string         `json:"gate_result,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	MessagePreview string         `json:"message_preview,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// FireResult reports the fire outcome, including the cooldown gate.
type FireResult struct {
	Status                 string     `json:"status"`
	CooldownRemainingHours float64    `json:"cooldown_remaining_hours,omitempty"`
	NextCheck              *time.Time `json:"next_check,omitempty"`
	Enabled                bool       `json:"enabled"`
	DisabledReason         string     `json:"disabled_reason,omitempty"`
}

// Fire processes a worker callback: cooldown gate, state transitions,
// next_check recomputation, and the immutable execution row. The whole
// path runs in one transaction so per-row updates stay serialized.
func (e *Engine) Fire(ctx context.Context, id string, req FireRequest) (*FireResult, error) {
	if !types.ValidExecutionStatus(req.Status) {
		return nil, fmt.Errorf("%w: unknown fire status %q", types.ErrValidation, req.Status)
	}

	var result *FireResult
	err := e.db.WithTx(ctx, func(txn *sqlx.Tx) error {
		intent, err := e.getForUpdate(ctx, txn, id)
		if err != nil {
			return err
		}
		now := e.now().UTC()

		// Cooldown gate: a success arriving inside the window is not an
		// error and mutates nothing.
		if req.Status == types.ExecSuccess && intent.TriggerType.IsCondition() {
			if remaining := e.cooldownRemaining(intent, now); remaining > 0 {
				result = &FireResult{
					Status:                 "cooldown_active",
					CooldownRemainingHours: math.Round(remaining.Hours()*100) / 100,
					NextCheck:              intent.NextCheck,
					Enabled:                intent.Enabled,
				}
				return nil
			}
		}

		intent.LastChecked = &now
		intent.LastExecutionStatus = req.Status
		fired := req.Status == types.ExecSuccess
		if fired {
			intent.LastExecuted = &now
			intent.ExecutionCount++
			if intent.TriggerType.IsCondition() {
				intent.LastConditionFire = &now
			}
		}

		e.applyTransitions(intent, fired, now)

		next, err := e.nextCheckAfterFire(intent, fired, now)
		if err != nil {
			return err
		}
		intent.NextCheck = next
		intent.ClaimedAt = nil

		if err := e.updateIntent(ctx, txn, intent); err != nil {
			return err
		}
		if err := e.recordExecution(ctx, txn, intent, req, now); err != nil {
			return err
		}

		result = &FireResult{
			Status:         req.Status,
			NextCheck:      intent.NextCheck,
			Enabled:        intent.Enabled,
			DisabledReason: intent.DisabledReason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyTransitions disables intents that completed their lifecycle.
func (e *Engine) applyTransitions(intent *types.ScheduledIntent, fired bool, now time.Time) {
	if fired && intent.TriggerType == types.TriggerOnce {
		intent.Enabled = false
		intent.DisabledReason = "once_completed"
	}
	if fired && intent.TriggerType.IsCondition() && intent.Condition.FireMode == types.FireOnce {
		intent.Enabled = false
		intent.DisabledReason = "fire_mode_once"
	}
	if intent.MaxExecutions != nil && intent.ExecutionCount >= *intent.MaxExecutions {
		intent.Enabled = false
		intent.DisabledReason = "max_executions_reached"
	}
	if intent.ExpiresAt != nil && now.After(*intent.ExpiresAt) {
		intent.Enabled = false
		intent.DisabledReason = "expired"
	}
}

// initialNextCheck computes the first due time on create or reschedule.
func (e *Engine) initialNextCheck(intent *types.ScheduledIntent, now time.Time) (*time.Time, error) {
	switch intent.TriggerType {
	case types.TriggerCron:
		return e.cronNext(intent, now)
	case types.TriggerInterval:
		t := now.Add(time.Duration(intent.Schedule.IntervalMinutes) * time.Minute)
		return &t, nil
	case types.TriggerOnce:
		t := intent.Schedule.FireAt.UTC()
		return &t, nil
	default:
		t := now.Add(time.Duration(intent.Schedule.CheckIntervalMinutes) * time.Minute)
		return &t, nil
	}
}

// nextCheckAfterFire recomputes next_check per trigger type. Recurring
// triggers are monotonic: the new value is computed from now and never
// precedes the old one.
func (e *Engine) nextCheckAfterFire(intent *types.ScheduledIntent, fired bool, now time.Time) (*time.Time, error) {
	if !intent.Enabled {
		return nil, nil
	}
	switch intent.TriggerType {
	case types.TriggerCron:
		return e.cronNext(intent, now)
	case types.TriggerInterval:
		t := now.Add(time.Duration(intent.Schedule.IntervalMinutes) * time.Minute)
		return &t, nil
	case types.TriggerOnce:
		return nil, nil
	default:
		checkMinutes := intent.Schedule.CheckIntervalMinutes
		if checkMinutes < types.MinCheckIntervalMinutes {
			checkMinutes = types.MinCheckIntervalMinutes
		}
		minutes := checkMinutes
		if fired {
			if cooldownMinutes := intent.Condition.CooldownHours * 60; cooldownMinutes > minutes {
				minutes = cooldownMinutes
			}
		}
		t := now.Add(time.Duration(minutes) * time.Minute)
		return &t, nil
	}
}

// cronNext finds the next occurrence in the intent's timezone. The
// stored value is UTC; the timezone matters only here.
func (e *Engine) cronNext(intent *types.ScheduledIntent, now time.Time) (*time.Time, error) {
	schedule, err := cron.ParseStandard(intent.Schedule.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %v", types.ErrValidation, intent.Schedule.Cron, err)
	}
	loc, err := time.LoadLocation(intent.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q", types.ErrValidation, intent.Schedule.Timezone)
	}
	t := schedule.Next(now.In(loc)).UTC()
	return &t, nil
}

func (e *Engine) cooldownRemaining(intent *types.ScheduledIntent, now time.Time) time.Duration {
	if !intent.TriggerType.IsCondition() || intent.LastConditionFire == nil || intent.Condition.CooldownHours <= 0 {
		return 0
	}
	until := intent.LastConditionFire.Add(time.Duration(intent.Condition.CooldownHours) * time.Hour)
	if now.Before(until) {
		return until.Sub(now)
	}
	return 0
}

// recordExecution appends the immutable audit row.
func (e *Engine) recordExecution(ctx context.Context, txn *sqlx.Tx, intent *types.ScheduledIntent, req FireRequest, now time.Time) error {
	data, err := json.Marshal(req.TriggerData)
	if err != nil {
		data = []byte("{}")
	}
	query := e.db.Rebind(`
		INSERT INTO intent_executions
			(intent_id, executed_at, trigger_type, trigger_data, status, gate_result, message_id, message_preview, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := txn.ExecContext(ctx, query,
		intent.ID, now.Unix(), intent.TriggerType, string(data), req.Status,
		req.GateResult, req.MessageID, req.MessagePreview, req.DurationMS, req.ErrorMessage); err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// Executions lists the audit rows for an intent, newest first.
func (e *Engine) Executions(ctx context.Context, intentID string, limit int) ([]types.IntentExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx, e.db.Rebind(fmt.Sprintf(`
		SELECT id, intent_id, executed_at, trigger_type, trigger_data, status,
		       gate_result, message_id, message_preview, duration_ms, error_message
		FROM intent_executions
		WHERE intent_id = ?
		ORDER BY executed_at DESC
		LIMIT %d`, limit)), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []types.IntentExecution
	for rows.Next() {
		var (
			ex         types.IntentExecution
			executedAt int64
			data       string
		)
		if err := rows.Scan(&ex.ID, &ex.IntentID, &executedAt, &ex.TriggerType, &data,
			&ex.Status, &ex.GateResult, &ex.MessageID, &ex.MessagePreview,
			&ex.DurationMS, &ex.ErrorMessage); err != nil {
			return nil, fmt.Errorf("execution scan failed: %w", err)
		}
		ex.ExecutedAt = time.Unix(executedAt, 0).UTC()
		if data != "" {
			_ = json.Unmarshal([]byte(data), &ex.TriggerData)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
