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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mnemo/pkg/migrations"
	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?cache=shared&mode=rwc&_journal_mode=WAL"
	db, err := relational.Open(ctx, "sqlite", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := migrations.New(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))
	return New(db, zaptest.NewLogger(t))
}

func TestCreate_InitialNextCheck(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	t.Run("interval", func(t *testing.T) {
		created, err := e.Create(ctx, baseIntent(types.TriggerInterval))
		require.NoError(t, err)
		assert.True(t, created.Enabled)
		assert.NotEmpty(t, created.ID)
		require.NotNil(t, created.NextCheck)
		assert.Equal(t, now.Add(60*time.Minute), created.NextCheck.UTC())
	})

	t.Run("once fires at fire_at", func(t *testing.T) {
		intent := baseIntent(types.TriggerOnce)
		at := now.Add(3 * time.Hour)
		intent.Schedule.FireAt = &at
		created, err := e.Create(ctx, intent)
		require.NoError(t, err)
		require.NotNil(t, created.NextCheck)
		assert.Equal(t, at, created.NextCheck.UTC())
	})

	t.Run("cron respects timezone", func(t *testing.T) {
		intent := baseIntent(types.TriggerCron)
		intent.Schedule.Cron = "0 8 * * *"
		intent.Schedule.Timezone = "UTC"
		created, err := e.Create(ctx, intent)
		require.NoError(t, err)
		require.NotNil(t, created.NextCheck)
		// 12:00 UTC has passed 08:00; next occurrence is tomorrow.
		assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), created.NextCheck.UTC())
	})

	t.Run("condition uses check interval", func(t *testing.T) {
		created, err := e.Create(ctx, baseIntent(types.TriggerPrice))
		require.NoError(t, err)
		require.NotNil(t, created.NextCheck)
		assert.Equal(t, now.Add(types.MinCheckIntervalMinutes*time.Minute), created.NextCheck.UTC())
	})
}

func TestFire_CooldownGate(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	created, err := e.Create(ctx, baseIntent(types.TriggerPrice))
	require.NoError(t, err)

	// First success fires normally and starts the 24h cooldown.
	res, err := e.Fire(ctx, created.ID, FireRequest{Status: types.ExecSuccess, MessageID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, types.ExecSuccess, res.Status)
	assert.True(t, res.Enabled)
	require.NotNil(t, res.NextCheck)
	assert.Equal(t, now.Add(24*time.Hour), res.NextCheck.UTC(), "next check pushed past the cooldown")

	// A second success two hours later hits the gate without mutating
	// anything.
	now = now.Add(2 * time.Hour)
	res, err = e.Fire(ctx, created.ID, FireRequest{Status: types.ExecSuccess, MessageID: "msg-2"})
	require.NoError(t, err)
	assert.Equal(t, "cooldown_active", res.Status)
	assert.InDelta(t, 22.0, res.CooldownRemainingHours, 0.01)

	stored, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)

	execs, err := e.Executions(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1, "gated fires leave no audit row")
	assert.Equal(t, "msg-1", execs[0].MessageID)
}

func TestFire_NonSuccessBypassesCooldown(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	created, err := e.Create(ctx, baseIntent(types.TriggerPrice))
	require.NoError(t, err)

	_, err = e.Fire(ctx, created.ID, FireRequest{Status: types.ExecSuccess})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	res, err := e.Fire(ctx, created.ID, FireRequest{Status: "condition_not_met"})
	require.NoError(t, err)
	assert.Equal(t, "condition_not_met", res.Status)

	execs, err := e.Executions(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "condition_not_met", execs[0].Status, "newest first")
}

func TestFire_OnceCompletes(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	intent := baseIntent(types.TriggerOnce)
	at := now.Add(-time.Minute)
	intent.Schedule.FireAt = &at
	created, err := e.Create(ctx, intent)
	require.NoError(t, err)

	res, err := e.Fire(ctx, created.ID, FireRequest{Status: types.ExecSuccess})
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, "once_completed", res.DisabledReason)
	assert.Nil(t, res.NextCheck)
}

func TestFire_MaxExecutions(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	intent := baseIntent(types.TriggerInterval)
	max := 1
	intent.MaxExecutions = &max
	created, err := e.Create(ctx, intent)
	require.NoError(t, err)

	res, err := e.Fire(ctx, created.ID, FireRequest{Status: types.ExecSuccess})
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, "max_executions_reached", res.DisabledReason)
}

func TestFire_UnknownStatus(t *testing.T) {
	e := setupEngine(t)
	_, err := e.Fire(context.Background(), "intent_x", FireRequest{Status: "maybe"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestPending_OrderingAndCooldownFlag(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	early := baseIntent(types.TriggerInterval)
	early.Schedule.IntervalMinutes = 30
	earlyCreated, err := e.Create(ctx, early)
	require.NoError(t, err)

	late := baseIntent(types.TriggerInterval)
	late.Schedule.IntervalMinutes = 90
	lateCreated, err := e.Create(ctx, late)
	require.NoError(t, err)

	price, err := e.Create(ctx, baseIntent(types.TriggerPrice))
	require.NoError(t, err)
	_, err = e.Fire(ctx, price.ID, FireRequest{Status: types.ExecSuccess})
	require.NoError(t, err)

	// Nothing is due yet.
	pending, err := e.Pending(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Two days on, everything is due; the price intent is out of its
	// cooldown by then.
	now = now.Add(48 * time.Hour)
	pending, err = e.Pending(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, earlyCreated.ID, pending[0].ID)
	assert.Equal(t, lateCreated.ID, pending[1].ID)
	assert.False(t, pending[2].CooldownActive)

	// A condition check inside the cooldown reschedules next_check to
	// the short check interval; the next pending listing flags it.
	now = now.Add(-46 * time.Hour) // 2h after the fire
	_, err = e.Fire(ctx, price.ID, FireRequest{Status: "condition_not_met"})
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	pending, err = e.Pending(ctx, "user-1", 0)
	require.NoError(t, err)
	var found bool
	for _, intent := range pending {
		if intent.ID == price.ID {
			found = true
			assert.True(t, intent.CooldownActive)
		}
	}
	assert.True(t, found)
}

func TestClaim_ExcludesClaimed(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := e.Create(ctx, baseIntent(types.TriggerInterval))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	claimed, err := e.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := e.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed rows stay invisible for the claim TTL")
}

func TestUpdate_PatchAndOwnership(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)

	created, err := e.Create(ctx, baseIntent(types.TriggerInterval))
	require.NoError(t, err)

	name := "evening briefing"
	updated, err := e.Update(ctx, created.ID, "user-1", Patch{IntentName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.IntentName)

	_, err = e.Update(ctx, created.ID, "user-2", Patch{IntentName: &name})
	assert.ErrorIs(t, err, types.ErrForbidden)

	disabled := false
	updated, err = e.Update(ctx, created.ID, "user-1", Patch{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "user_disabled", updated.DisabledReason)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)

	created, err := e.Create(ctx, baseIntent(types.TriggerInterval))
	require.NoError(t, err)

	assert.ErrorIs(t, e.Delete(ctx, created.ID, "user-2"), types.ErrForbidden)
	require.NoError(t, e.Delete(ctx, created.ID, "user-1"))

	_, err = e.Get(ctx, created.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t)

	_, err := e.Create(ctx, baseIntent(types.TriggerInterval))
	require.NoError(t, err)
	other := baseIntent(types.TriggerInterval)
	other.UserID = "user-2"
	_, err = e.Create(ctx, other)
	require.NoError(t, err)

	intents, err := e.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "user-1", intents[0].UserID)
}
