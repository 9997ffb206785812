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

package intents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/types"
)

const intentColumns = `id, user_id, intent_name, description, trigger_type,
	trigger_schedule, trigger_condition, action_type, action_context, action_priority,
	next_check, last_checked, last_executed, execution_count, last_execution_status,
	enabled, disabled_reason, expires_at, max_executions, last_condition_fire,
	claimed_at, created_at, updated_at`

// insertIntent persists a new row.
func (e *Engine) insertIntent(ctx context.Context, intent *types.ScheduledIntent) error {
	schedule, condition, err := marshalContainers(intent)
	if err != nil {
		return err
	}
	query := e.db.Rebind(`
		INSERT INTO scheduled_intents (` + intentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = e.db.ExecContext(ctx, query,
		intent.ID, intent.UserID, intent.IntentName, intent.Description, intent.TriggerType,
		schedule, condition, intent.ActionType, intent.ActionContext, intent.ActionPriority,
		relational.PtrUnix(intent.NextCheck), relational.PtrUnix(intent.LastChecked),
		relational.PtrUnix(intent.LastExecuted), intent.ExecutionCount, intent.LastExecutionStatus,
		boolInt(intent.Enabled), intent.DisabledReason, relational.PtrUnix(intent.ExpiresAt),
		nullableInt(intent.MaxExecutions), relational.PtrUnix(intent.LastConditionFire),
		relational.PtrUnix(intent.ClaimedAt), intent.CreatedAt.UTC().Unix(), intent.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// updateIntent rewrites a row inside a transaction; the fire path uses
// this so per-row updates stay serialized.
func (e *Engine) updateIntent(ctx context.Context, txn *sqlx.Tx, intent *types.ScheduledIntent) error {
	schedule, condition, err := marshalContainers(intent)
	if err != nil {
		return err
	}
	intent.UpdatedAt = time.Now().UTC()
	query := e.db.Rebind(`
		UPDATE scheduled_intents SET
			intent_name = ?, description = ?, trigger_type = ?,
			trigger_schedule = ?, trigger_condition = ?,
			action_type = ?, action_context = ?, action_priority = ?,
			next_check = ?, last_checked = ?, last_executed = ?,
			execution_count = ?, last_execution_status = ?,
			enabled = ?, disabled_reason = ?, expires_at = ?,
			max_executions = ?, last_condition_fire = ?, claimed_at = ?,
			updated_at = ?
		WHERE id = ?`)
	args := []any{
		intent.IntentName, intent.Description, intent.TriggerType,
		schedule, condition,
		intent.ActionType, intent.ActionContext, intent.ActionPriority,
		relational.PtrUnix(intent.NextCheck), relational.PtrUnix(intent.LastChecked),
		relational.PtrUnix(intent.LastExecuted),
		intent.ExecutionCount, intent.LastExecutionStatus,
		boolInt(intent.Enabled), intent.DisabledReason, relational.PtrUnix(intent.ExpiresAt),
		nullableInt(intent.MaxExecutions), relational.PtrUnix(intent.LastConditionFire),
		relational.PtrUnix(intent.ClaimedAt),
		intent.UpdatedAt.Unix(), intent.ID,
	}
	if txn != nil {
		_, err = txn.ExecContext(ctx, query, args...)
	} else {
		_, err = e.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	return nil
}

// Get loads one intent.
func (e *Engine) Get(ctx context.Context, id string) (*types.ScheduledIntent, error) {
	row := e.db.QueryRowContext(ctx,
		e.db.Rebind(`SELECT `+intentColumns+` FROM scheduled_intents WHERE id = ?`), id)
	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: intent %s", types.ErrNotFound, id)
	}
	return intent, err
}

// getForUpdate loads one intent inside a transaction.
func (e *Engine) getForUpdate(ctx context.Context, txn *sqlx.Tx, id string) (*types.ScheduledIntent, error) {
	row := txn.QueryRowContext(ctx,
		e.db.Rebind(`SELECT `+intentColumns+` FROM scheduled_intents WHERE id = ?`), id)
	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: intent %s", types.ErrNotFound, id)
	}
	return intent, err
}

// List returns a user's intents, newest first.
func (e *Engine) List(ctx context.Context, userID string) ([]*types.ScheduledIntent, error) {
	rows, err := e.db.QueryContext(ctx, e.db.Rebind(`
		SELECT `+intentColumns+` FROM scheduled_intents
		WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var out []*types.ScheduledIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// Delete destroys an intent and its execution audit stays.
func (e *Engine) Delete(ctx context.Context, id, userID string) error {
	res, err := e.db.ExecContext(ctx,
		e.db.Rebind(`DELETE FROM scheduled_intents WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: intent %s", types.ErrNotFound, id)
	}
	return nil
}

// rowScanner lets scanIntent work over both Row and Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*types.ScheduledIntent, error) {
	var (
		intent                      types.ScheduledIntent
		schedule, condition         string
		nextCheck, lastChecked      sql.NullInt64
		lastExecuted, expiresAt     sql.NullInt64
		lastConditionFire, claimedAt sql.NullInt64
		maxExecutions               sql.NullInt64
		enabled                     int
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&intent.ID, &intent.UserID, &intent.IntentName, &intent.Description, &intent.TriggerType,
		&schedule, &condition, &intent.ActionType, &intent.ActionContext, &intent.ActionPriority,
		&nextCheck, &lastChecked, &lastExecuted, &intent.ExecutionCount, &intent.LastExecutionStatus,
		&enabled, &intent.DisabledReason, &expiresAt, &maxExecutions, &lastConditionFire,
		&claimedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(schedule), &intent.Schedule); err != nil {
		return nil, fmt.Errorf("corrupt trigger_schedule for %s: %w", intent.ID, err)
	}
	if err := json.Unmarshal([]byte(condition), &intent.Condition); err != nil {
		return nil, fmt.Errorf("corrupt trigger_condition for %s: %w", intent.ID, err)
	}

	intent.Enabled = enabled != 0
	intent.NextCheck = relational.UnixPtr(nextCheck)
	intent.LastChecked = relational.UnixPtr(lastChecked)
	intent.LastExecuted = relational.UnixPtr(lastExecuted)
	intent.ExpiresAt = relational.UnixPtr(expiresAt)
	intent.LastConditionFire = relational.UnixPtr(lastConditionFire)
	intent.ClaimedAt = relational.UnixPtr(claimedAt)
	if maxExecutions.Valid {
		v := int(maxExecutions.Int64)
		intent.MaxExecutions = &v
	}
	intent.CreatedAt = time.Unix(createdAt, 0).UTC()
	intent.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &intent, nil
}

func marshalContainers(intent *types.ScheduledIntent) (string, string, error) {
	schedule, err := json.Marshal(intent.Schedule)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger_schedule: %w", err)
	}
	condition, err := json.Marshal(intent.Condition)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger_condition: %w", err)
	}
	return string(schedule), string(condition), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
