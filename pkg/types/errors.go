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

import (
	"context"
	"errors"
)

// ErrorKind is the wire-level error taxonomy. Every error response carries
// one of these in error_code.
type ErrorKind string

const (
	KindValidation            ErrorKind = "VALIDATION_ERROR"
	KindEmbedding             ErrorKind = "EMBEDDING_ERROR"
	KindStorage               ErrorKind = "STORAGE_ERROR"
	KindDependencyUnavailable ErrorKind = "DEPENDENCY_UNAVAILABLE"
	KindConsentDenied         ErrorKind = "CONSENT_DENIED"
	KindTimeout               ErrorKind = "TIMEOUT"
	KindInternal              ErrorKind = "INTERNAL_ERROR"

	// HTTP-boundary kinds layered on the core taxonomy.
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindForbidden     ErrorKind = "FORBIDDEN"
	KindPoolSaturated ErrorKind = "POOL_SATURATED"
)

// Sentinel errors. Handlers map these onto the taxonomy and HTTP status
// codes; everything else falls through to INTERNAL_ERROR.
var (
	ErrValidation    = errors.New("validation failed")
	ErrEmbedding     = errors.New("embedding provider failed")
	ErrStorage       = errors.New("required store failed")
	ErrUnavailable   = errors.New("dependency unavailable")
	ErrConsentDenied = errors.New("consent denied")
	ErrTimeout       = errors.New("deadline exceeded")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrCooldownActive is not a failure: a condition-trigger fire inside
	// its cooldown window is reported as a first-class status.
	ErrCooldownActive = errors.New("cooldown active")
)

// KindOf maps an error to its taxonomy kind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrUnavailable):
		return KindDependencyUnavailable
	case errors.Is(err, ErrConsentDenied):
		return KindConsentDenied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrPoolSaturated):
		return KindPoolSaturated
	default:
		return KindInternal
	}
}
