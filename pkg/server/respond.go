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

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the uniform error envelope.
type errorResponse struct {
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// writeJSON sends a success payload. Handlers make sure the payload
// carries a status field.
func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Response encoding failed", zap.Error(err))
	}
}

// writeError translates an error into the taxonomy envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	correlationID := uuid.NewString()

	s.logger.Warn("Request failed",
		zap.String("error_code", string(kind)),
		zap.String("correlation_id", correlationID),
		zap.Error(err))

	s.writeJSON(w, statusFor(kind), errorResponse{
		ErrorCode:     string(kind),
		Message:       err.Error(),
		CorrelationID: correlationID,
	})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindConsentDenied:
		return http.StatusForbidden
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindPoolSaturated:
		return http.StatusTooManyRequests
	case types.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case types.KindEmbedding, types.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Join(types.ErrValidation, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Join(types.ErrValidation, err)
	}
	return nil
}

// requireUserID reads user_id from the query string.
func requireUserID(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return "", errors.Join(types.ErrValidation, errors.New("user_id query parameter is required"))
	}
	return userID, nil
}
