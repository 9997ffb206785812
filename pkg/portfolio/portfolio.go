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

// Package portfolio maintains the portfolio projection: an append-only
// transaction ledger as the source of truth, a current-holdings view
// folded from it, user preferences, and periodic value snapshots
// materialized to the time-series store.
package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/teradata-labs/mnemo/pkg/storage/relational"
	"github.com/teradata-labs/mnemo/pkg/storage/timeseries"
	"github.com/teradata-labs/mnemo/pkg/types"
)

// Ledger actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Projector owns the portfolio tables.
type Projector struct {
	db     *relational.DB
	series *timeseries.Store
	logger *zap.Logger
}

// New builds a projector. series may be nil when snapshotting is off.
func New(db *relational.DB, series *timeseries.Store, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{db: db, series: series, logger: logger}
}

// Summary is the current-portfolio response.
type Summary struct {
	UserID      string                   `json:"user_id"`
	Holdings    []types.PortfolioHolding `json:"holdings"`
	TotalValue  float64                  `json:"total_value"`
	Preferences Preferences              `json:"preferences"`
	AsOf        time.Time                `json:"as_of"`
}

// Preferences are per-user portfolio settings.
type Preferences struct {
	RiskTolerance string `json:"risk_tolerance" db:"risk_tolerance"`
	Horizon       string `json:"horizon" db:"horizon"`
}

// NormalizeTicker uppercases and trims a ticker symbol.
func NormalizeTicker(t string) string { return strings.ToUpper(strings.TrimSpace(t)) }

// RecordTransaction appends a ledger row and re-folds the affected
// holding inside one transaction, preserving (user_id, ticker)
// uniqueness.
func (p *Projector) RecordTransaction(ctx context.Context, tx types.PortfolioTransaction) error {
	tx.Ticker = NormalizeTicker(tx.Ticker)
	if !types.ValidTicker(tx.Ticker) {
		return fmt.Errorf("%w: ticker %q must match [A-Z]{1,5}", types.ErrValidation, tx.Ticker)
	}
	if tx.Action != ActionBuy && tx.Action != ActionSell {
		return fmt.Errorf("%w: unknown action %q", types.ErrValidation, tx.Action)
	}
	if tx.Shares <= 0 {
		return fmt.Errorf("%w: shares must be > 0", types.ErrValidation)
	}
	if tx.At.IsZero() {
		tx.At = time.Now()
	}

	return p.db.WithTx(ctx, func(txn *sqlx.Tx) error {
		insert := p.db.Rebind(`
			INSERT INTO portfolio_transactions (user_id, ticker, asset_name, action, shares, price, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if _, err := txn.ExecContext(ctx, insert,
			tx.UserID, tx.Ticker, tx.AssetName, tx.Action, tx.Shares, tx.Price, tx.At.UTC().Unix()); err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		return p.refoldHolding(ctx, txn, tx.UserID, tx.Ticker)
	})
}

// ApplyHolding ingests a holding attached to a memory: it becomes a buy
// transaction for the delta against the current position, or a fresh
// buy when no position exists. Satisfies the persistence orchestrator's
// PortfolioWriter.
func (p *Projector) ApplyHolding(ctx context.Context, userID string, h *types.PortfolioHolding) error {
	ticker := NormalizeTicker(h.Ticker)
	if !types.ValidTicker(ticker) {
		return fmt.Errorf("%w: ticker %q must match [A-Z]{1,5}", types.ErrValidation, h.Ticker)
	}

	current, err := p.Holding(ctx, userID, ticker)
	if err != nil && err != types.ErrNotFound {
		return err
	}

	shares := h.Shares
	action := ActionBuy
	if current != nil {
		delta := h.Shares - current.Shares
		if delta == 0 {
			return nil
		}
		if delta < 0 {
			action = ActionSell
			delta = -delta
		}
		shares = delta
	}
	if shares <= 0 {
		return nil
	}

	return p.RecordTransaction(ctx, types.PortfolioTransaction{
		UserID:    userID,
		Ticker:    ticker,
		AssetName: h.AssetName,
		Action:    action,
		Shares:    shares,
		Price:     h.AvgPrice,
	})
}

// DeleteHolding removes a position and its ledger rows.
func (p *Projector) DeleteHolding(ctx context.Context, userID, ticker string) error {
	ticker = NormalizeTicker(ticker)
	return p.db.WithTx(ctx, func(txn *sqlx.Tx) error {
		del := p.db.Rebind(`DELETE FROM portfolio_holdings WHERE user_id = ? AND ticker = ?`)
		res, err := txn.ExecContext(ctx, del, userID, ticker)
		if err != nil {
			return fmt.Errorf("failed to delete holding: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: holding %s/%s", types.ErrNotFound, userID, ticker)
		}
		ledger := p.db.Rebind(`DELETE FROM portfolio_transactions WHERE user_id = ? AND ticker = ?`)
		if _, err := txn.ExecContext(ctx, ledger, userID, ticker); err != nil {
			return fmt.Errorf("failed to clear ledger: %w", err)
		}
		return nil
	})
}

// Holding loads one position.
func (p *Projector) Holding(ctx context.Context, userID, ticker string) (*types.PortfolioHolding, error) {
	var (
		h             types.PortfolioHolding
		acquired, upd int64
	)
	err := p.db.QueryRowContext(ctx, p.db.Rebind(`
		SELECT user_id, ticker, asset_name, shares, avg_price, first_acquired, last_updated
		FROM portfolio_holdings WHERE user_id = ? AND ticker = ?`), userID, ticker,
	).Scan(&h.UserID, &h.Ticker, &h.AssetName, &h.Shares, &h.AvgPrice, &acquired, &upd)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load holding: %w", err)
	}
	h.FirstAcquired = time.Unix(acquired, 0).UTC()
	h.LastUpdated = time.Unix(upd, 0).UTC()
	return &h, nil
}

// Holdings lists a user's open positions ordered by ticker.
func (p *Projector) Holdings(ctx context.Context, userID string) ([]types.PortfolioHolding, error) {
	rows, err := p.db.QueryContext(ctx, p.db.Rebind(`
		SELECT user_id, ticker, asset_name, shares, avg_price, first_acquired, last_updated
		FROM portfolio_holdings WHERE user_id = ? AND shares > 0
		ORDER BY ticker`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var out []types.PortfolioHolding
	for rows.Next() {
		var (
			h             types.PortfolioHolding
			acquired, upd int64
		)
		if err := rows.Scan(&h.UserID, &h.Ticker, &h.AssetName, &h.Shares, &h.AvgPrice, &acquired, &upd); err != nil {
			return nil, fmt.Errorf("holding scan failed: %w", err)
		}
		h.FirstAcquired = time.Unix(acquired, 0).UTC()
		h.LastUpdated = time.Unix(upd, 0).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

// Summarize builds the current-portfolio view. Value uses avg_price as
// the mark; live quotes are the proactive worker's concern.
func (p *Projector) Summarize(ctx context.Context, userID string) (*Summary, error) {
	holdings, err := p.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, h := range holdings {
		total += h.Shares * h.AvgPrice
	}

	prefs, err := p.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Summary{
		UserID:      userID,
		Holdings:    holdings,
		TotalValue:  total,
		Preferences: prefs,
		AsOf:        time.Now().UTC(),
	}, nil
}

// GetPreferences loads preferences, defaulting when the user has none.
func (p *Projector) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	prefs := Preferences{RiskTolerance: "moderate", Horizon: "long"}
	err := p.db.QueryRowContext(ctx, p.db.Rebind(`
		SELECT risk_tolerance, horizon FROM portfolio_preferences WHERE user_id = ?`), userID,
	).Scan(&prefs.RiskTolerance, &prefs.Horizon)
	if err != nil && err != sql.ErrNoRows {
		return prefs, fmt.Errorf("failed to load preferences: %w", err)
	}
	return prefs, nil
}

// SetPreferences upserts preferences.
func (p *Projector) SetPreferences(ctx context.Context, userID string, prefs Preferences) error {
	query := p.db.Rebind(`
		INSERT INTO portfolio_preferences (user_id, risk_tolerance, horizon, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			risk_tolerance = excluded.risk_tolerance,
			horizon = excluded.horizon,
			updated_at = excluded.updated_at`)
	if _, err := p.db.ExecContext(ctx, query,
		userID, prefs.RiskTolerance, prefs.Horizon, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("failed to set preferences: %w", err)
	}
	return nil
}

// Snapshot materializes the current portfolio value into the
// time-series store for historical tracking.
func (p *Projector) Snapshot(ctx context.Context, userID string) error {
	if p.series == nil {
		return nil
	}
	summary, err := p.Summarize(ctx, userID)
	if err != nil {
		return err
	}
	return p.series.InsertSnapshot(ctx, timeseries.SnapshotRow{
		UserID:     userID,
		TS:         time.Now(),
		TotalValue: summary.TotalValue,
		Holdings:   summary.Holdings,
	})
}

// refoldHolding rebuilds one (user, ticker) position from the full
// ledger: buys accumulate shares with a weighted average price, sells
// reduce shares and leave the basis untouched.
func (p *Projector) refoldHolding(ctx context.Context, txn *sqlx.Tx, userID, ticker string) error {
	rows, err := txn.QueryContext(ctx, p.db.Rebind(`
		SELECT asset_name, action, shares, price, at
		FROM portfolio_transactions
		WHERE user_id = ? AND ticker = ?
		ORDER BY at, id`), userID, ticker)
	if err != nil {
		return fmt.Errorf("ledger scan failed: %w", err)
	}
	defer rows.Close()

	var (
		shares, avgPrice float64
		assetName        string
		firstAcquired    int64
		lastUpdated      int64
	)
	for rows.Next() {
		var (
			name, action string
			qty, price   float64
			at           int64
		)
		if err := rows.Scan(&name, &action, &qty, &price, &at); err != nil {
			return fmt.Errorf("ledger scan failed: %w", err)
		}
		if name != "" {
			assetName = name
		}
		if firstAcquired == 0 {
			firstAcquired = at
		}
		lastUpdated = at

		switch action {
		case ActionBuy:
			total := shares + qty
			if total > 0 {
				avgPrice = (avgPrice*shares + price*qty) / total
			}
			shares = total
		case ActionSell:
			shares -= qty
			if shares < 0 {
				shares = 0
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	upsert := p.db.Rebind(`
		INSERT INTO portfolio_holdings (user_id, ticker, asset_name, shares, avg_price, first_acquired, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, ticker) DO UPDATE SET
			asset_name = excluded.asset_name,
			shares = excluded.shares,
			avg_price = excluded.avg_price,
			last_updated = excluded.last_updated`)
	if _, err := txn.ExecContext(ctx, upsert,
		userID, ticker, assetName, shares, avgPrice, firstAcquired, lastUpdated); err != nil {
		return fmt.Errorf("failed to refold holding: %w", err)
	}
	return nil
}
