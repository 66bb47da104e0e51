package ledger

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// CheckConsistency verifies, over the whole history, that an instrument has a
// position exactly when its latest trade is an unmatched BUY, and that every SELL
// closes exactly one earlier BUY on the same instrument.
func (l *Ledger) CheckConsistency(ctx context.Context) error {
	trades, err := l.store.ListAllTrades(ctx)
	if err != nil {
		return fmt.Errorf("ledger.CheckConsistency: %w", err)
	}
	positions, err := l.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger.CheckConsistency: %w", err)
	}
	if err := checkHistory(trades, positions); err != nil {
		return fmt.Errorf("ledger.CheckConsistency: %w: %w", domain.ErrLedgerInconsistent, err)
	}
	return nil
}

// checkHistory espera los trades en orden cronológico.
func checkHistory(trades []domain.Trade, positions []domain.Position) error {
	buys := make(map[string]domain.Trade)
	closedBy := make(map[string]string) // buy id -> sell id
	openBuy := make(map[string]string)  // instrument -> buy id sin cerrar

	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			if prev, ok := openBuy[t.Instrument]; ok {
				return fmt.Errorf("buy %s on %s while %s still open", t.ID, t.Instrument, prev)
			}
			buys[t.ID] = t
			openBuy[t.Instrument] = t.ID
		case domain.SideSell:
			buy, ok := buys[t.RelatedBuyID]
			if !ok {
				return fmt.Errorf("sell %s closes unknown buy %q", t.ID, t.RelatedBuyID)
			}
			if buy.Instrument != t.Instrument {
				return fmt.Errorf("sell %s on %s closes buy %s on %s", t.ID, t.Instrument, buy.ID, buy.Instrument)
			}
			if other, dup := closedBy[buy.ID]; dup {
				return fmt.Errorf("buy %s closed twice (%s, %s)", buy.ID, other, t.ID)
			}
			if openBuy[t.Instrument] != buy.ID {
				return fmt.Errorf("sell %s closes %s which is not the open buy on %s", t.ID, buy.ID, t.Instrument)
			}
			closedBy[buy.ID] = t.ID
			delete(openBuy, t.Instrument)
		default:
			return fmt.Errorf("trade %s has unknown side %q", t.ID, t.Side)
		}
	}

	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[p.Instrument] = true
		buyID, ok := openBuy[p.Instrument]
		if !ok {
			return fmt.Errorf("position on %s without an unmatched buy", p.Instrument)
		}
		if p.OpenTradeID != buyID {
			return fmt.Errorf("position on %s points to %s, open buy is %s", p.Instrument, p.OpenTradeID, buyID)
		}
	}
	for instrument, buyID := range openBuy {
		if !seen[instrument] {
			return fmt.Errorf("buy %s on %s is unmatched but there is no position", buyID, instrument)
		}
	}
	return nil
}
