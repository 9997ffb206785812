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
	"errors"
	"net/http"

	"github.com/teradata-labs/mnemo/pkg/portfolio"
	"github.com/teradata-labs/mnemo/pkg/types"
)

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	summary, err := s.deps.Portfolios.Summarize(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"summary": summary,
	})
}

// holdingWriteRequest creates or replaces one holding position.
type holdingWriteRequest struct {
	UserID  string                 `json:"user_id" validate:"required"`
	Holding types.PortfolioHolding `json:"holding"`
}

func (s *Server) handlePortfolioWrite(w http.ResponseWriter, r *http.Request) {
	var req holdingWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateStruct(&req); err != nil {
		s.writeError(w, err)
		return
	}

	h := req.Holding
	h.UserID = req.UserID
	h.Ticker = portfolio.NormalizeTicker(h.Ticker)
	if err := h.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Portfolios.ApplyHolding(r.Context(), req.UserID, &h); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"ticker": h.Ticker,
	})
}

func (s *Server) handlePortfolioDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticker := portfolio.NormalizeTicker(r.URL.Query().Get("ticker"))
	if ticker == "" {
		s.writeError(w, errors.Join(types.ErrValidation, errors.New("ticker query parameter is required")))
		return
	}

	if err := s.deps.Portfolios.DeleteHolding(r.Context(), userID, ticker); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"ticker": ticker,
	})
}
