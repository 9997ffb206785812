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

// Adapter names used in persistence outcomes and health reports.
const (
	AdapterVector     = "vector"
	AdapterEpisodic   = "episodic"
	AdapterEmotional  = "emotional"
	AdapterProcedural = "procedural"
	AdapterPortfolio  = "portfolio"
	AdapterRelational = "relational"
	AdapterCache      = "cache"
)

// AdapterOutcome records one attempted write during a persist fan-out.
type AdapterOutcome struct {
	Adapter   string    `json:"adapter"`
	OK        bool      `json:"ok"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
}

// PersistenceOutcome is the per-memory result of the orchestrated fan-out:
// one entry per attempted adapter.
type PersistenceOutcome struct {
	MemoryID string           `json:"memory_id"`
	Outcomes []AdapterOutcome `json:"outcomes"`
}

// Succeeded reports whether the required vector write landed.
func (o PersistenceOutcome) Succeeded() bool {
	for _, a := range o.Outcomes {
		if a.Adapter == AdapterVector {
			return a.OK
		}
	}
	return false
}

// Failed lists adapters whose best-effort writes did not land.
func (o PersistenceOutcome) Failed() []string {
	var failed []string
	for _, a := range o.Outcomes {
		if !a.OK {
			failed = append(failed, a.Adapter)
		}
	}
	return failed
}

// HealthStatus is one store's health-probe result.
type HealthStatus struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ExtractionCounters aggregate per-request pipeline results.
type ExtractionCounters struct {
	MemoriesCreated        int `json:"memories_created"`
	DuplicatesAvoided      int `json:"duplicates_avoided"`
	UpdatesMade            int `json:"updates_made"`
	ExistingMemoriesChecked int `json:"existing_memories_checked"`
}
