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

// Package config loads service configuration from the environment (MNEMO_
// prefix) and an optional mnemo.yaml, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	// Vector store.
	VectorBackend      string `mapstructure:"vector_backend"` // chroma | sqlite
	ChromaURL          string `mapstructure:"chroma_url"`
	ChromaCollection   string `mapstructure:"chroma_collection"`
	VectorSQLitePath   string `mapstructure:"vector_sqlite_path"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension"`

	// Relational store (also backs the time-series tables).
	RelationalDriver string `mapstructure:"relational_driver"` // sqlite | postgres
	RelationalDSN    string `mapstructure:"relational_dsn"`

	// Cache.
	CacheURL string `mapstructure:"cache_url"`

	// LLM oracle.
	LLMProvider     string        `mapstructure:"llm_provider"` // anthropic | ollama
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	OllamaEndpoint  string        `mapstructure:"ollama_endpoint"`
	OllamaModel     string        `mapstructure:"ollama_model"`
	LLMTimeout      time.Duration `mapstructure:"llm_timeout"`

	// Embedding provider.
	EmbeddingProvider string `mapstructure:"embedding_provider"` // ollama | genai
	GenAIAPIKey       string `mapstructure:"genai_api_key"`
	GenAIModel        string `mapstructure:"genai_model"`
	EmbedOllamaModel  string `mapstructure:"embed_ollama_model"`

	// Feature flags.
	SynthesisEnabled  bool `mapstructure:"synthesis_enabled"`
	ProactivityEnabled bool `mapstructure:"proactivity_enabled"`
	MultiStoreEnabled bool `mapstructure:"multi_store_enabled"`

	// Operational knobs.
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	CacheTimeout     time.Duration `mapstructure:"cache_timeout"`
	IngestionWorkers int           `mapstructure:"ingestion_workers"`
	IngestionQueue   int           `mapstructure:"ingestion_queue"`
	ClaimTTL         time.Duration `mapstructure:"claim_ttl"`
}

// Load reads configuration from the environment and, when present, an
// mnemo.yaml in the working directory or /etc/mnemo.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MNEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mnemo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mnemo")
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; only surface real parse failures.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8600")
	v.SetDefault("vector_backend", "sqlite")
	v.SetDefault("chroma_url", "http://localhost:8000")
	v.SetDefault("chroma_collection", "mnemo_memories")
	v.SetDefault("vector_sqlite_path", "mnemo-vectors.db")
	v.SetDefault("embedding_dimension", 3072)
	v.SetDefault("relational_driver", "sqlite")
	v.SetDefault("relational_dsn", "file:mnemo.db?cache=shared&mode=rwc&_journal_mode=WAL")
	v.SetDefault("cache_url", "redis://localhost:6379/0")
	v.SetDefault("llm_provider", "anthropic")
	v.SetDefault("anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ollama_endpoint", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3.1")
	v.SetDefault("llm_timeout", 180*time.Second)
	v.SetDefault("embedding_provider", "ollama")
	v.SetDefault("genai_model", "gemini-embedding-001")
	v.SetDefault("embed_ollama_model", "embeddinggemma")
	v.SetDefault("synthesis_enabled", true)
	v.SetDefault("proactivity_enabled", true)
	v.SetDefault("multi_store_enabled", true)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("store_timeout", 2*time.Second)
	v.SetDefault("cache_timeout", 500*time.Millisecond)
	v.SetDefault("ingestion_workers", 8)
	v.SetDefault("ingestion_queue", 64)
	v.SetDefault("claim_ttl", 5*time.Minute)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case "chroma", "sqlite":
	default:
		return fmt.Errorf("invalid vector_backend %q (use chroma or sqlite)", c.VectorBackend)
	}
	switch c.RelationalDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid relational_driver %q (use sqlite or postgres)", c.RelationalDriver)
	}
	switch c.LLMProvider {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("invalid llm_provider %q (use anthropic or ollama)", c.LLMProvider)
	}
	switch c.EmbeddingProvider {
	case "ollama", "genai":
	default:
		return fmt.Errorf("invalid embedding_provider %q (use ollama or genai)", c.EmbeddingProvider)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if c.IngestionWorkers <= 0 || c.IngestionQueue <= 0 {
		return fmt.Errorf("ingestion pool sizes must be positive")
	}
	return nil
}
