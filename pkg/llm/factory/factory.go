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

// Package factory creates llm.Provider instances from configuration.
package factory

import (
	"fmt"
	"time"

	"github.com/teradata-labs/mnemo/pkg/llm"
	"github.com/teradata-labs/mnemo/pkg/llm/anthropic"
	"github.com/teradata-labs/mnemo/pkg/llm/ollama"
)

// Config selects and configures an LLM backend.
type Config struct {
	Provider string // "anthropic" or "ollama"

	AnthropicAPIKey string
	AnthropicModel  string

	OllamaEndpoint string
	OllamaModel    string

	Timeout time.Duration
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama":
		return ollama.NewClient(ollama.Config{
			Endpoint: cfg.OllamaEndpoint,
			Model:    cfg.OllamaModel,
			Timeout:  cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use 'anthropic' or 'ollama')", cfg.Provider)
	}
}
