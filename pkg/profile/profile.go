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

// Package profile maintains the per-user profile projection across a
// fixed category set. Fields are populated by enrichment, can be
// overwritten by explicit user PUTs, and carry a blended confidence
// score with a per-field audit trail of contributing memories.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// Categories is the fixed profile category set.
var Categories = []string{
	"basics", "preferences", "goals", "interests",
	"background", "health", "personality", "values",
}

// FieldsPerCategory sizes the completeness denominator.
const FieldsPerCategory = 5

// Confidence blend weights.
const (
	WeightFrequency    = 0.30
	WeightRecency      = 0.25
	WeightExplicitness = 0.25
	WeightDiversity    = 0.20
)

// ValidCategory reports whether c is in the fixed set.
func ValidCategory(c string) bool {
	for _, cat := range Categories {
		if cat == c {
			return true
		}
	}
	return false
}

// Field is one profile entry with its confidence breakdown.
type Field struct {
	Category   string    `json:"category" db:"category"`
	Field      string    `json:"field" db:"field"`
	Value      string    `json:"value" db:"value"`
	Explicit   bool      `json:"explicit"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Projector owns the profile tables.
type Projector struct {
	db     *relational.DB
	logger *zap.Logger
}

// New builds a projector.
func New(db *relational.DB, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{db: db, logger: logger}
}

// Observe records a field observation from enrichment: it upserts the
// value (never overwriting an explicit user value with an implicit
// one), links the contributing memory in the audit table, and
// recomputes confidence.
func (p *Projector) Observe(ctx context.Context, userID, category, field, value, memoryID string) error {
	if !ValidCategory(category) {
		return fmt.Errorf("%w: unknown profile category %q", types.ErrValidation, category)
	}
	if field == "" || value == "" {
		return fmt.Errorf("%w: field and value are required", types.ErrValidation)
	}

	now := time.Now().UTC().Unix()
	return p.db.WithTx(ctx, func(txn *sqlx.Tx) error {
		if err := p.ensureProfile(ctx, txn, userID, now); err != nil {
			return err
		}

		var explicit int
		err := txn.QueryRowContext(ctx, p.db.Rebind(`
			SELECT explicit FROM profile_fields
			WHERE user_id = ? AND category = ? AND field = ?`), userID, category, field,
		).Scan(&explicit)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read profile field: %w", err)
		}

		if explicit == 0 {
			upsert := p.db.Rebind(`
				INSERT INTO profile_fields (user_id, category, field, value, explicit, updated_at)
				VALUES (?, ?, ?, ?, 0, ?)
				ON CONFLICT (user_id, category, field) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`)
			if _, err := txn.ExecContext(ctx, upsert, userID, category, field, value, now); err != nil {
				return fmt.Errorf("failed to upsert profile field: %w", err)
			}
		}

		if memoryID != "" {
			audit := p.db.Rebind(`
				INSERT INTO profile_sources (user_id, category, field, memory_id, at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (user_id, category, field, memory_id) DO NOTHING`)
			if _, err := txn.ExecContext(ctx, audit, userID, category, field, memoryID, now); err != nil {
				return fmt.Errorf("failed to record profile source: %w", err)
			}
		}

		return p.recomputeConfidence(ctx, txn, userID, category, field, now)
	})
}

// Put overwrites a field with an explicit user value. Explicit values
// have explicitness 1 and are never replaced by enrichment.
func (p *Projector) Put(ctx context.Context, userID, category, field, value string) error {
	if !ValidCategory(category) {
		return fmt.Errorf("%w: unknown profile category %q", types.ErrValidation, category)
	}
	if field == "" || value == "" {
		return fmt.Errorf("%w: field and value are required", types.ErrValidation)
	}

	now := time.Now().UTC().Unix()
	return p.db.WithTx(ctx, func(txn *sqlx.Tx) error {
		if err := p.ensureProfile(ctx, txn, userID, now); err != nil {
			return err
		}
		upsert := p.db.Rebind(`
			INSERT INTO profile_fields (user_id, category, field, value, explicit, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT (user_id, category, field) DO UPDATE SET
				value = excluded.value,
				explicit = 1,
				updated_at = excluded.updated_at`)
		if _, err := txn.ExecContext(ctx, upsert, userID, category, field, value, now); err != nil {
			return fmt.Errorf("failed to put profile field: %w", err)
		}
		return p.recomputeConfidence(ctx, txn, userID, category, field, now)
	})
}

// Get loads the full profile grouped by category.
func (p *Projector) Get(ctx context.Context, userID string) (map[string][]Field, error) {
	rows, err := p.db.QueryContext(ctx, p.db.Rebind(`
		SELECT f.category, f.field, f.value, f.explicit, f.updated_at,
		       COALESCE(c.confidence, 0)
		FROM profile_fields f
		LEFT JOIN profile_confidence_scores c
		  ON c.user_id = f.user_id AND c.category = f.category AND c.field = f.field
		WHERE f.user_id = ?
		ORDER BY f.category, f.field`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Field)
	for rows.Next() {
		var (
			f        Field
			explicit int
			updated  int64
		)
		if err := rows.Scan(&f.Category, &f.Field, &f.Value, &explicit, &updated, &f.Confidence); err != nil {
			return nil, fmt.Errorf("profile scan failed: %w", err)
		}
		f.Explicit = explicit != 0
		f.UpdatedAt = time.Unix(updated, 0).UTC()
		out[f.Category] = append(out[f.Category], f)
	}
	return out, rows.Err()
}

// GetCategory loads one category's fields.
func (p *Projector) GetCategory(ctx context.Context, userID, category string) ([]Field, error) {
	if !ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown profile category %q", types.ErrValidation, category)
	}
	all, err := p.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return all[category], nil
}

// Completeness returns the populated-field percentage across the fixed
// category set.
func (p *Projector) Completeness(ctx context.Context, userID string) (float64, int, error) {
	var populated int
	err := p.db.QueryRowContext(ctx, p.db.Rebind(`
		SELECT COUNT(*) FROM profile_fields WHERE user_id = ?`), userID).Scan(&populated)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count profile fields: %w", err)
	}
	total := len(Categories) * FieldsPerCategory
	if populated > total {
		populated = total
	}
	return float64(populated) / float64(total) * 100, populated, nil
}

// Sources returns the audit trail for one field.
func (p *Projector) Sources(ctx context.Context, userID, category, field string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, p.db.Rebind(`
		SELECT memory_id FROM profile_sources
		WHERE user_id = ? AND category = ? AND field = ?
		ORDER BY at`), userID, category, field)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("source scan failed: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Projector) ensureProfile(ctx context.Context, txn *sqlx.Tx, userID string, now int64) error {
	query := p.db.Rebind(`
		INSERT INTO user_profiles (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`)
	if _, err := txn.ExecContext(ctx, query, userID, now, now); err != nil {
		return fmt.Errorf("failed to ensure profile row: %w", err)
	}
	return nil
}

// recomputeConfidence rebuilds the blended confidence for one field:
// frequency (0.30), recency (0.25), explicitness (0.25), source
// diversity (0.20).
func (p *Projector) recomputeConfidence(ctx context.Context, txn *sqlx.Tx, userID, category, field string, now int64) error {
	var sources, distinctDays int
	err := txn.QueryRowContext(ctx, p.db.Rebind(`
		SELECT COUNT(*), COUNT(DISTINCT at / 86400)
		FROM profile_sources
		WHERE user_id = ? AND category = ? AND field = ?`), userID, category, field,
	).Scan(&sources, &distinctDays)
	if err != nil {
		return fmt.Errorf("failed to count sources: %w", err)
	}

	var (
		explicit int
		updated  int64
	)
	err = txn.QueryRowContext(ctx, p.db.Rebind(`
		SELECT explicit, updated_at FROM profile_fields
		WHERE user_id = ? AND category = ? AND field = ?`), userID, category, field,
	).Scan(&explicit, &updated)
	if err != nil {
		return fmt.Errorf("failed to read field for confidence: %w", err)
	}

	frequency := saturate(float64(sources) / 5)
	ageDays := float64(now-updated) / 86400
	recency := 1 / (1 + ageDays/30)
	explicitness := 0.3
	if explicit != 0 {
		explicitness = 1
	}
	diversity := saturate(float64(distinctDays) / 3)

	confidence := WeightFrequency*frequency +
		WeightRecency*recency +
		WeightExplicitness*explicitness +
		WeightDiversity*diversity

	upsert := p.db.Rebind(`
		INSERT INTO profile_confidence_scores
			(user_id, category, field, frequency, recency, explicitness, diversity, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category, field) DO UPDATE SET
			frequency = excluded.frequency,
			recency = excluded.recency,
			explicitness = excluded.explicitness,
			diversity = excluded.diversity,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`)
	if _, err := txn.ExecContext(ctx, upsert,
		userID, category, field, frequency, recency, explicitness, diversity, confidence, now); err != nil {
		return fmt.Errorf("failed to upsert confidence: %w", err)
	}
	return nil
}

func saturate(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
