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

package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// TypedStore persists the relational typed projections: procedural
// memories, identity records, and skill progressions.
type TypedStore struct {
	db *DB
}

// NewTypedStore wraps the shared relational pool.
func NewTypedStore(db *DB) *TypedStore { return &TypedStore{db: db} }

// UpsertProcedural writes the procedural projection keyed on memory id.
// A proficiency change appends a skill_progressions row.
func (s *TypedStore) UpsertProcedural(ctx context.Context, m *types.Memory) error {
	if m.Procedural == nil {
		return fmt.Errorf("memory %s has no procedural fields", m.ID)
	}
	p := m.Procedural

	var prevLevel string
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT proficiency_level FROM procedural_memories WHERE id = ?`), m.ID,
	).Scan(&prevLevel)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read procedural row: %w", err)
	}

	prereqs, err := json.Marshal(p.Prerequisites)
	if err != nil {
		return fmt.Errorf("failed to marshal prerequisites: %w", err)
	}

	now := time.Now().UTC().Unix()
	query := s.db.Rebind(`
		INSERT INTO procedural_memories
			(id, user_id, skill_name, proficiency_level, practice_count, success_rate, difficulty_rating, prerequisites, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			skill_name = excluded.skill_name,
			proficiency_level = excluded.proficiency_level,
			practice_count = excluded.practice_count,
			success_rate = excluded.success_rate,
			difficulty_rating = excluded.difficulty_rating,
			prerequisites = excluded.prerequisites,
			content = excluded.content,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query,
		m.ID, m.UserID, p.SkillName, p.ProficiencyLevel, p.PracticeCount,
		p.SuccessRate, p.DifficultyRating, string(prereqs), m.Content, now,
	); err != nil {
		return fmt.Errorf("failed to upsert procedural memory: %w", err)
	}

	if prevLevel != "" && prevLevel != p.ProficiencyLevel {
		progression := s.db.Rebind(`
			INSERT INTO skill_progressions (user_id, skill_name, from_level, to_level, at)
			VALUES (?, ?, ?, ?, ?)`)
		if _, err := s.db.ExecContext(ctx, progression,
			m.UserID, p.SkillName, prevLevel, p.ProficiencyLevel, now); err != nil {
			return fmt.Errorf("failed to record skill progression: %w", err)
		}
	}
	return nil
}

// HasProcedural reports whether a procedural row exists for the id.
func (s *TypedStore) HasProcedural(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT 1 FROM procedural_memories WHERE id = ?`), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteProcedural removes the procedural row for a memory id.
func (s *TypedStore) DeleteProcedural(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM procedural_memories WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete procedural memory: %w", err)
	}
	return nil
}

// GetProcedural loads the procedural projection for a memory id.
func (s *TypedStore) GetProcedural(ctx context.Context, id string) (*types.ProceduralFields, error) {
	var (
		p       types.ProceduralFields
		prereqs string
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT skill_name, proficiency_level, practice_count, success_rate, difficulty_rating, prerequisites
		FROM procedural_memories WHERE id = ?`), id,
	).Scan(&p.SkillName, &p.ProficiencyLevel, &p.PracticeCount, &p.SuccessRate, &p.DifficultyRating, &prereqs)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get procedural memory: %w", err)
	}
	if prereqs != "" {
		_ = json.Unmarshal([]byte(prereqs), &p.Prerequisites)
	}
	return &p, nil
}

// UpsertIdentity writes the one-row-per-user identity projection.
func (s *TypedStore) UpsertIdentity(ctx context.Context, rec *types.IdentityRecord) error {
	marshal := func(v []string) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	coreValues, err := marshal(rec.CoreValues)
	if err != nil {
		return fmt.Errorf("failed to marshal identity fields: %w", err)
	}
	lifeRoles, _ := marshal(rec.LifeRoles)
	traits, _ := marshal(rec.PersonalityTraits)
	growthEdges, _ := marshal(rec.GrowthEdges)
	contradictions, _ := marshal(rec.Contradictions)

	query := s.db.Rebind(`
		INSERT INTO identity_memories
			(user_id, core_values, self_concept, ideal_self, feared_self, life_roles, personality_traits, growth_edges, contradictions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			core_values = excluded.core_values,
			self_concept = excluded.self_concept,
			ideal_self = excluded.ideal_self,
			feared_self = excluded.feared_self,
			life_roles = excluded.life_roles,
			personality_traits = excluded.personality_traits,
			growth_edges = excluded.growth_edges,
			contradictions = excluded.contradictions,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		rec.UserID, coreValues, rec.SelfConcept, rec.IdealSelf, rec.FearedSelf,
		lifeRoles, traits, growthEdges, contradictions, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert identity record: %w", err)
	}
	return nil
}

// GetIdentity loads the identity projection for a user.
func (s *TypedStore) GetIdentity(ctx context.Context, userID string) (*types.IdentityRecord, error) {
	var (
		rec                                                       types.IdentityRecord
		coreValues, lifeRoles, traits, growthEdges, contradictions string
		updatedAt                                                 int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT user_id, core_values, self_concept, ideal_self, feared_self, life_roles, personality_traits, growth_edges, contradictions, updated_at
		FROM identity_memories WHERE user_id = ?`), userID,
	).Scan(&rec.UserID, &coreValues, &rec.SelfConcept, &rec.IdealSelf, &rec.FearedSelf,
		&lifeRoles, &traits, &growthEdges, &contradictions, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity record: %w", err)
	}
	_ = json.Unmarshal([]byte(coreValues), &rec.CoreValues)
	_ = json.Unmarshal([]byte(lifeRoles), &rec.LifeRoles)
	_ = json.Unmarshal([]byte(traits), &rec.PersonalityTraits)
	_ = json.Unmarshal([]byte(growthEdges), &rec.GrowthEdges)
	_ = json.Unmarshal([]byte(contradictions), &rec.Contradictions)
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}
