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
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// Expression grammars for condition triggers.
var (
	priceExpr   = regexp.MustCompile(`^[A-Z]{1,5}\s*(<=|>=|<|>|=)\s*\d+(\.\d+)?$`)
	silenceExpr = regexp.MustCompile(`^inactive_hours\s*>\s*\d+$`)
)

// portfolioAggregates are the recognized portfolio-expression subjects.
var portfolioAggregates = []string{
	"any_holding_change", "any_holding_down", "any_holding_up",
	"total_value", "total_change",
}

// Validate checks a scheduled intent before create or update. It
// normalizes defaults in place: timezone, check interval, priority,
// and the cooldown upper clamp.
func Validate(intent *types.ScheduledIntent) error {
	if intent.UserID == "" {
		return fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if intent.IntentName == "" {
		return fmt.Errorf("%w: intent_name is required", types.ErrValidation)
	}
	if !types.ValidTriggerType(intent.TriggerType) {
		return fmt.Errorf("%w: unknown trigger_type %q", types.ErrValidation, intent.TriggerType)
	}
	if !types.ValidActionType(intent.ActionType) {
		return fmt.Errorf("%w: unknown action_type %q", types.ErrValidation, intent.ActionType)
	}
	if intent.ActionPriority == "" {
		intent.ActionPriority = types.PriorityNormal
	}
	if !types.ValidActionPriority(intent.ActionPriority) {
		return fmt.Errorf("%w: unknown action_priority %q", types.ErrValidation, intent.ActionPriority)
	}

	if intent.Schedule.Timezone == "" {
		intent.Schedule.Timezone = types.DefaultTimezone
	}
	if _, err := time.LoadLocation(intent.Schedule.Timezone); err != nil {
		return fmt.Errorf("%w: invalid timezone %q", types.ErrValidation, intent.Schedule.Timezone)
	}

	switch intent.TriggerType {
	case types.TriggerCron:
		if intent.Schedule.Cron == "" {
			return fmt.Errorf("%w: cron expression is required", types.ErrValidation)
		}
		if _, err := cron.ParseStandard(intent.Schedule.Cron); err != nil {
			return fmt.Errorf("%w: invalid cron expression %q: %v", types.ErrValidation, intent.Schedule.Cron, err)
		}
	case types.TriggerInterval:
		if intent.Schedule.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: interval_minutes must be > 0", types.ErrValidation)
		}
	case types.TriggerOnce:
		if intent.Schedule.FireAt == nil {
			return fmt.Errorf("%w: fire_at is required for once triggers", types.ErrValidation)
		}
	default:
		if err := validateCondition(intent); err != nil {
			return err
		}
	}

	if intent.TriggerType.IsCondition() {
		if intent.Schedule.CheckIntervalMinutes == 0 {
			intent.Schedule.CheckIntervalMinutes = types.MinCheckIntervalMinutes
		}
		if intent.Schedule.CheckIntervalMinutes < types.MinCheckIntervalMinutes {
			return fmt.Errorf("%w: check_interval_minutes must be >= %d",
				types.ErrValidation, types.MinCheckIntervalMinutes)
		}
	}
	return nil
}

func validateCondition(intent *types.ScheduledIntent) error {
	cond := &intent.Condition

	// The legacy structured form bypasses expression checks.
	legacy := cond.Ticker != "" || cond.ThresholdHours > 0
	if !legacy {
		if cond.Expression == "" {
			return fmt.Errorf("%w: condition expression is required", types.ErrValidation)
		}
		switch intent.TriggerType {
		case types.TriggerPrice:
			if !priceExpr.MatchString(cond.Expression) {
				return fmt.Errorf("%w: price expression must match 'TICKER (< | > | <= | >= | =) VALUE'", types.ErrValidation)
			}
		case types.TriggerSilence:
			if !silenceExpr.MatchString(cond.Expression) {
				return fmt.Errorf("%w: silence expression must match 'inactive_hours > N'", types.ErrValidation)
			}
		case types.TriggerPortfolio:
			if !recognizedAggregate(cond.Expression) {
				return fmt.Errorf("%w: portfolio expression must reference one of %v", types.ErrValidation, portfolioAggregates)
			}
		}
	}

	if cond.FireMode == "" {
		cond.FireMode = types.FireRecurring
	}
	if cond.FireMode != types.FireOnce && cond.FireMode != types.FireRecurring {
		return fmt.Errorf("%w: unknown fire_mode %q", types.ErrValidation, cond.FireMode)
	}

	if cond.CooldownHours < types.MinCooldownHours {
		return fmt.Errorf("%w: cooldown_hours must be >= %d", types.ErrValidation, types.MinCooldownHours)
	}
	if cond.CooldownHours > types.MaxCooldownHours {
		cond.CooldownHours = types.MaxCooldownHours
	}
	return nil
}

func recognizedAggregate(expr string) bool {
	for _, agg := range portfolioAggregates {
		if len(expr) >= len(agg) && expr[:len(agg)] == agg {
			return true
		}
	}
	return false
}
