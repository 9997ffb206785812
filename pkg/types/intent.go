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

package types

import "time"

// TriggerType selects how a scheduled intent decides when to fire.
type TriggerType string

const (
	TriggerCron      TriggerType = "cron"
	TriggerInterval  TriggerType = "interval"
	TriggerOnce      TriggerType = "once"
	TriggerPrice     TriggerType = "price"
	TriggerSilence   TriggerType = "silence"
	TriggerPortfolio TriggerType = "portfolio"
)

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t TriggerType) bool {
	switch t {
	case TriggerCron, TriggerInterval, TriggerOnce, TriggerPrice, TriggerSilence, TriggerPortfolio:
		return true
	}
	return false
}

// IsCondition reports whether the trigger carries a condition expression
// evaluated by the proactive worker (price, silence, portfolio).
func (t TriggerType) IsCondition() bool {
	return t == TriggerPrice || t == TriggerSilence || t == TriggerPortfolio
}

// FireMode controls whether a condition trigger disables itself after its
// first successful fire.
type FireMode string

const (
	FireOnce      FireMode = "once"
	FireRecurring FireMode = "recurring"
)

// DefaultTimezone is applied when a schedule omits one.
const DefaultTimezone = "America/Los_Angeles"

// Cooldown bounds in hours.
const (
	MinCooldownHours = 1
	MaxCooldownHours = 168
)

// MinCheckIntervalMinutes is the floor for condition re-check cadence.
const MinCheckIntervalMinutes = 5

// TriggerSchedule is the semantic schedule container: exactly one of Cron,
// IntervalMinutes, or FireAt is meaningful depending on the trigger type.
type TriggerSchedule struct {
	Cron                 string     `json:"cron,omitempty"`
	IntervalMinutes      int        `json:"interval_minutes,omitempty"`
	FireAt               *time.Time `json:"fire_at,omitempty"`
	Timezone             string     `json:"timezone,omitempty"`
	CheckIntervalMinutes int        `json:"check_interval_minutes,omitempty"`
}

// TriggerCondition is the semantic condition container. Either the legacy
// structured fields (Ticker/Operator/Value/ThresholdHours) or the
// expression form is populated.
type TriggerCondition struct {
	// Legacy structured form.
	Ticker         string  `json:"ticker,omitempty"`
	Operator       string  `json:"operator,omitempty"`
	Value          float64 `json:"value,omitempty"`
	ThresholdHours int     `json:"threshold_hours,omitempty"`

	// Expression form.
	ConditionType string   `json:"condition_type,omitempty"`
	Expression    string   `json:"expression,omitempty"`
	CooldownHours int      `json:"cooldown_hours,omitempty"`
	FireMode      FireMode `json:"fire_mode,omitempty"`
}

// ActionType classifies what the proactive worker should do on fire.
type ActionType string

const (
	ActionNotify   ActionType = "notify"
	ActionCheckIn  ActionType = "check_in"
	ActionBriefing ActionType = "briefing"
	ActionAnalysis ActionType = "analysis"
	ActionReminder ActionType = "reminder"
)

// ValidActionType reports whether a is a known action type.
func ValidActionType(a ActionType) bool {
	switch a {
	case ActionNotify, ActionCheckIn, ActionBriefing, ActionAnalysis, ActionReminder:
		return true
	}
	return false
}

// ActionPriority orders proactive work.
type ActionPriority string

const (
	PriorityLow      ActionPriority = "low"
	PriorityNormal   ActionPriority = "normal"
	PriorityHigh     ActionPriority = "high"
	PriorityCritical ActionPriority = "critical"
)

// ValidActionPriority reports whether p is a known priority.
func ValidActionPriority(p ActionPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ScheduledIntent is the relational record for a proactive trigger.
type ScheduledIntent struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	IntentName  string           `json:"intent_name"`
	Description string           `json:"description,omitempty"`
	TriggerType TriggerType      `json:"trigger_type"`
	Schedule    TriggerSchedule  `json:"trigger_schedule"`
	Condition   TriggerCondition `json:"trigger_condition"`

	ActionType     ActionType     `json:"action_type"`
	ActionContext  string         `json:"action_context,omitempty"`
	ActionPriority ActionPriority `json:"action_priority"`

	NextCheck           *time.Time `json:"next_check,omitempty"`
	LastChecked         *time.Time `json:"last_checked,omitempty"`
	LastExecuted        *time.Time `json:"last_executed,omitempty"`
	ExecutionCount      int        `json:"execution_count"`
	LastExecutionStatus string     `json:"last_execution_status,omitempty"`

	Enabled           bool       `json:"enabled"`
	DisabledReason    string     `json:"disabled_reason,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	MaxExecutions     *int       `json:"max_executions,omitempty"`
	LastConditionFire *time.Time `json:"last_condition_fire,omitempty"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// CooldownActive is a response-only flag set on pending queries for
	// condition triggers still inside their cooldown window.
	CooldownActive bool `json:"cooldown_active,omitempty"`
}

// ExecutionStatus values recorded in the intent_executions audit.
const (
	ExecSuccess         = "success"
	ExecFailed          = "failed"
	ExecGateBlocked     = "gate_blocked"
	ExecConditionNotMet = "condition_not_met"
)

// ValidExecutionStatus reports whether s is an accepted fire status.
func ValidExecutionStatus(s string) bool {
	switch s {
	case ExecSuccess, ExecFailed, ExecGateBlocked, ExecConditionNotMet:
		return true
	}
	return false
}

// IntentExecution is an immutable audit row recorded on every fire
// callback that passes the cooldown gate.
type IntentExecution struct {
	ID             int64          `json:"id" db:"id"`
	IntentID       string         `json:"intent_id" db:"intent_id"`
	ExecutedAt     time.Time      `json:"executed_at" db:"executed_at"`
	TriggerType    TriggerType    `json:"trigger_type" db:"trigger_type"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	Status         string         `json:"status" db:"status"`
	GateResult     string         `json:"gate_result,omitempty" db:"gate_result"`
	MessageID      string         `json:"message_id,omitempty" db:"message_id"`
	MessagePreview string         `json:"message_preview,omitempty" db:"message_preview"`
	DurationMS     int64          `json:"duration_ms" db:"duration_ms"`
	ErrorMessage   string         `json:"error_message,omitempty" db:"error_message"`
}
