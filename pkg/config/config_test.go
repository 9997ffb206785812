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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8600", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.VectorBackend)
	assert.Equal(t, "sqlite", cfg.RelationalDriver)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "ollama", cfg.EmbeddingProvider)
	assert.Equal(t, 3072, cfg.EmbeddingDimension)
	assert.Equal(t, 180*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 8, cfg.IngestionWorkers)
	assert.True(t, cfg.SynthesisEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MNEMO_HTTP_ADDR", ":9900")
	t.Setenv("MNEMO_LLM_PROVIDER", "ollama")
	t.Setenv("MNEMO_EMBEDDING_DIMENSION", "768")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9900", cfg.HTTPAddr)
	assert.Equal(t, "ollama", cfg.LLMProvider)
	assert.Equal(t, 768, cfg.EmbeddingDimension)
}

func TestLoad_RejectsInvalidEnv(t *testing.T) {
	t.Setenv("MNEMO_VECTOR_BACKEND", "pinecone")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			VectorBackend:      "sqlite",
			RelationalDriver:   "sqlite",
			LLMProvider:        "anthropic",
			EmbeddingProvider:  "ollama",
			EmbeddingDimension: 768,
			IngestionWorkers:   4,
			IngestionQueue:     16,
		}
	}
	cases := map[string]func(*Config){
		"bad vector backend":     func(c *Config) { c.VectorBackend = "weaviate" },
		"bad relational driver":  func(c *Config) { c.RelationalDriver = "mysql" },
		"bad llm provider":       func(c *Config) { c.LLMProvider = "openai" },
		"bad embedding provider": func(c *Config) { c.EmbeddingProvider = "cohere" },
		"zero dimensions":        func(c *Config) { c.EmbeddingDimension = 0 },
		"zero workers":           func(c *Config) { c.IngestionWorkers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	valid := base()
	assert.NoError(t, valid.Validate())
}
