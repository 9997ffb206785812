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

// Package timeseries is the time-series adapter for episodic memories,
// emotional memories, and portfolio snapshots. It emulates hypertables
// over the shared relational store with (user_id, ts) indexes.
package timeseries

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

// Hypertable names.
const (
	TableEpisodic  = "episodic_memories"
	TableEmotional = "emotional_memories"
	TableSnapshots = "portfolio_snapshots"
)

// Store is the time-series adapter.
type Store struct {
	db *relational.DB
}

// New wraps the shared relational pool.
func New(db *relational.DB) *Store { return &Store{db: db} }

// EpisodicRow is one episodic_memories row.
type EpisodicRow struct {
	ID           string
	UserID       string
	TS           time.Time
	EventType    string
	Location     string
	Participants []string
	Valence      float64
	Arousal      float64
	Importance   float64
	Content      string
	Archived     bool
}

// EmotionalRow is one emotional_memories row.
type EmotionalRow struct {
	ID           string
	UserID       string
	TS           time.Time
	State        string
	Valence      float64
	Arousal      float64
	Dominance    float64
	Intensity    float64
	DurationMin  float64
	TriggerEvent string
}

// SnapshotRow is one portfolio_snapshots row.
type SnapshotRow struct {
	UserID     string
	TS         time.Time
	TotalValue float64
	Holdings   []types.PortfolioHolding
}

// InsertEpisodic upserts the episodic projection of a memory.
func (s *Store) InsertEpisodic(ctx context.Context, m *types.Memory) error {
	if m.Episodic == nil {
		return fmt.Errorf("memory %s has no episodic fields", m.ID)
	}
	e := m.Episodic
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	query := s.db.Rebind(`
		INSERT INTO episodic_memories
			(id, user_id, ts, event_type, location, participants, valence, arousal, importance, content, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (id) DO UPDATE SET
			ts = excluded.ts,
			event_type = excluded.event_type,
			location = excluded.location,
			participants = excluded.participants,
			valence = excluded.valence,
			arousal = excluded.arousal,
			importance = excluded.importance,
			content = excluded.content`)
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.UserID, e.EventTimestamp.UTC().Unix(), e.EventType, e.Location,
		string(participants), e.EmotionalValence, e.EmotionalArousal, e.ImportanceScore, m.Content)
	if err != nil {
		return fmt.Errorf("failed to insert episodic row: %w", err)
	}
	return nil
}

// InsertEmotional upserts the emotional projection of a memory.
func (s *Store) InsertEmotional(ctx context.Context, m *types.Memory) error {
	if m.Emotional == nil {
		return fmt.Errorf("memory %s has no emotional fields", m.ID)
	}
	e := m.Emotional
	ts := e.Timestamp
	if ts.IsZero() {
		ts = m.CreatedAt
	}

	query := s.db.Rebind(`
		INSERT INTO emotional_memories
			(id, user_id, ts, state, valence, arousal, dominance, intensity, duration_min, trigger_event)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ts = excluded.ts,
			state = excluded.state,
			valence = excluded.valence,
			arousal = excluded.arousal,
			dominance = excluded.dominance,
			intensity = excluded.intensity,
			duration_min = excluded.duration_min,
			trigger_event = excluded.trigger_event`)
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.UserID, ts.UTC().Unix(), e.EmotionalState, e.Valence, e.Arousal,
		e.Dominance, e.Intensity, e.DurationMin, e.TriggerEvent)
	if err != nil {
		return fmt.Errorf("failed to insert emotional row: %w", err)
	}
	return nil
}

// InsertSnapshot materializes a portfolio snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, row SnapshotRow) error {
	holdings, err := json.Marshal(row.Holdings)
	if err != nil {
		return fmt.Errorf("failed to marshal holdings: %w", err)
	}
	query := s.db.Rebind(`
		INSERT INTO portfolio_snapshots (user_id, ts, total_value, holdings)
		VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		row.UserID, row.TS.UTC().Unix(), row.TotalValue, string(holdings)); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Delete removes a row by memory id from a hypertable.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	switch table {
	case TableEpisodic, TableEmotional:
	default:
		return fmt.Errorf("unsupported time-series table %q", table)
	}
	query := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// Exists reports whether a row with the memory id is present.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	switch table {
	case TableEpisodic, TableEmotional:
	default:
		return false, fmt.Errorf("unsupported time-series table %q", table)
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table)), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RangeEpisodic scans episodic rows for a user in [from, to], newest
// first, excluding archived rows.
func (s *Store) RangeEpisodic(ctx context.Context, userID string, from, to time.Time, limit int) ([]EpisodicRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.Rebind(`
		SELECT id, user_id, ts, event_type, location, participants, valence, arousal, importance, content, archived
		FROM episodic_memories
		WHERE user_id = ? AND ts >= ? AND ts <= ? AND archived = 0
		ORDER BY ts DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, from.UTC().Unix(), to.UTC().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("episodic range scan failed: %w", err)
	}
	return scanEpisodicRows(rows)
}

// GetEpisodic fetches episodic rows by memory id, including archived
// rows.
func (s *Store) GetEpisodic(ctx context.Context, ids []string) ([]EpisodicRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, user_id, ts, event_type, location, participants, valence, arousal, importance, content, archived
		FROM episodic_memories
		WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to expand episodic lookup: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("episodic lookup failed: %w", err)
	}
	return scanEpisodicRows(rows)
}

func scanEpisodicRows(rows *sql.Rows) ([]EpisodicRow, error) {
	defer rows.Close()

	var out []EpisodicRow
	for rows.Next() {
		var (
			r            EpisodicRow
			ts           int64
			participants string
			archived     int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &ts, &r.EventType, &r.Location, &participants,
			&r.Valence, &r.Arousal, &r.Importance, &r.Content, &archived); err != nil {
			return nil, fmt.Errorf("episodic scan failed: %w", err)
		}
		r.TS = time.Unix(ts, 0).UTC()
		r.Archived = archived != 0
		_ = json.Unmarshal([]byte(participants), &r.Participants)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RangeEmotional scans emotional rows for a user in [from, to], newest first.
func (s *Store) RangeEmotional(ctx context.Context, userID string, from, to time.Time, limit int) ([]EmotionalRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.Rebind(`
		SELECT id, user_id, ts, state, valence, arousal, dominance, intensity, duration_min, trigger_event
		FROM emotional_memories
		WHERE user_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, from.UTC().Unix(), to.UTC().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("emotional range scan failed: %w", err)
	}
	defer rows.Close()

	var out []EmotionalRow
	for rows.Next() {
		var (
			r  EmotionalRow
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &ts, &r.State, &r.Valence, &r.Arousal,
			&r.Dominance, &r.Intensity, &r.DurationMin, &r.TriggerEvent); err != nil {
			return nil, fmt.Errorf("emotional scan failed: %w", err)
		}
		r.TS = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArchiveEpisodic marks an episodic row archived (forgetting keeps the
// row for audit but retrieval skips it).
func (s *Store) ArchiveEpisodic(ctx context.Context, id string) error {
	query := s.db.Rebind(`UPDATE episodic_memories SET archived = 1 WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to archive episodic row: %w", err)
	}
	return nil
}

// Health delegates to the underlying relational pool.
func (s *Store) Health(ctx context.Context) types.HealthStatus { return s.db.Health(ctx) }
