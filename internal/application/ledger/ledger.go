// Package ledger is the simulated trading book: at most one open position per
// instrument, every close paired with the buy that opened it, and performance
// metrics recomputed from the full trade history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
)

// Config parametriza el ledger.
type Config struct {
	PositionNotional float64                 // importe objetivo por posición cuando no se fija cantidad
	Convention       domain.ReturnConvention // additive | compound
}

// OpenRequest describes a BUY.
type OpenRequest struct {
	Instrument string
	Price      float64
	Quantity   int64 // 0 = floor(PositionNotional / Price)
	ItemID     string
	AnalysisID string
	Note       string
	At         time.Time // zero = now
}

// CloseRequest describes a SELL of the whole open position.
type CloseRequest struct {
	Instrument string
	Price      float64
	ItemID     string
	AnalysisID string
	Note       string
	At         time.Time
}

// Ledger owns the FLAT → OPEN → FLAT state machine of each instrument.
type Ledger struct {
	store ports.LedgerStore
	cfg   Config
	now   func() time.Time
	ids   *idGen
}

// New creates a Ledger.
func New(store ports.LedgerStore, cfg Config) *Ledger {
	if !cfg.Convention.Valid() {
		cfg.Convention = domain.ConventionAdditive
	}
	return &Ledger{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		ids:   newIDGen(),
	}
}

// WithClock replaces the clock used for trade timestamps and snapshots.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Convention returns the configured cumulative-return convention.
func (l *Ledger) Convention() domain.ReturnConvention {
	return l.cfg.Convention
}

// Open records a BUY and creates the position. Fails with domain.ErrAlreadyOpen,
// writing nothing, when the instrument already has a position.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (domain.Trade, error) {
	if req.Instrument == "" || req.Price <= 0 {
		return domain.Trade{}, fmt.Errorf("ledger.Open %q: price %v: %w", req.Instrument, req.Price, domain.ErrInvalidQuantity)
	}
	qty := req.Quantity
	if qty == 0 {
		qty = decimal.NewFromFloat(l.cfg.PositionNotional).
			Div(decimal.NewFromFloat(req.Price)).
			Floor().IntPart()
	}
	if qty <= 0 {
		return domain.Trade{}, fmt.Errorf("ledger.Open %s: quantity %d at %v: %w", req.Instrument, qty, req.Price, domain.ErrInvalidQuantity)
	}

	at := l.stamp(req.At)
	amount, _ := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromInt(qty)).Float64()

	var trade domain.Trade
	err := l.store.WithTx(ctx, func(tx ports.LedgerTx) error {
		_, err := tx.GetPosition(ctx, req.Instrument)
		if err == nil {
			return fmt.Errorf("ledger.Open %s: %w", req.Instrument, domain.ErrAlreadyOpen)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		at, err = after(ctx, tx, req.Instrument, at)
		if err != nil {
			return err
		}
		id, err := l.ids.next(at)
		if err != nil {
			return fmt.Errorf("trade id: %w", err)
		}
		trade = domain.Trade{
			ID: id, ItemID: req.ItemID, AnalysisID: req.AnalysisID, Instrument: req.Instrument,
			Side: domain.SideBuy, Timestamp: at, Quantity: qty, Price: req.Price, Amount: amount,
			Note: req.Note,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		return tx.InsertPosition(ctx, domain.Position{
			Instrument: req.Instrument, OpenTradeID: trade.ID, ItemID: req.ItemID,
			Quantity: qty, AvgPrice: req.Price, TotalInvestment: amount, OpenedAt: at,
			Note: req.Note,
		})
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("ledger.Open: %w", err)
	}

	slog.Info("position opened",
		"instrument", trade.Instrument,
		"qty", trade.Quantity,
		"price", trade.Price,
		"trade_id", trade.ID,
	)
	return trade, nil
}

// Close records a SELL of the whole position at req.Price, pairs it with the
// opening BUY, deletes the position and persists a fresh performance snapshot,
// all in one transaction. Fails with domain.ErrNotOpen when the instrument is FLAT.
func (l *Ledger) Close(ctx context.Context, req CloseRequest) (domain.Trade, error) {
	if req.Instrument == "" || req.Price <= 0 {
		return domain.Trade{}, fmt.Errorf("ledger.Close %q: price %v: %w", req.Instrument, req.Price, domain.ErrInvalidQuantity)
	}
	at := l.stamp(req.At)

	var trade domain.Trade
	err := l.store.WithTx(ctx, func(tx ports.LedgerTx) error {
		pos, err := tx.GetPosition(ctx, req.Instrument)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger.Close %s: %w", req.Instrument, domain.ErrNotOpen)
		}
		if err != nil {
			return err
		}
		at, err = after(ctx, tx, req.Instrument, at)
		if err != nil {
			return err
		}
		closed, err := tx.ListClosedTrades(ctx)
		if err != nil {
			return err
		}
		// Un cierre nunca se intercala antes de otro ya registrado: el
		// CumulativeReturn guardado en los cierres posteriores quedaría obsoleto.
		at = afterClosed(closed, at)
		id, err := l.ids.next(at)
		if err != nil {
			return fmt.Errorf("trade id: %w", err)
		}

		pl, rate, amount := realize(pos, req.Price)
		trade = domain.Trade{
			ID: id, ItemID: req.ItemID, AnalysisID: req.AnalysisID, Instrument: req.Instrument,
			Side: domain.SideSell, Timestamp: at, Quantity: pos.Quantity, Price: req.Price,
			Amount: amount, RelatedBuyID: pos.OpenTradeID, ProfitLoss: pl, ProfitLossRate: rate,
			Note: req.Note,
		}

		closed = append(closed, trade)
		trade.CumulativeReturn = cumulativeAt(closed, trade.ID, l.cfg.Convention)

		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := tx.DeletePosition(ctx, req.Instrument); err != nil {
			return err
		}
		closed[len(closed)-1] = trade
		return tx.SaveSnapshot(ctx, domain.ComputePerformance(closed, l.cfg.Convention, l.now()))
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("ledger.Close: %w", err)
	}

	slog.Info("position closed",
		"instrument", trade.Instrument,
		"qty", trade.Quantity,
		"price", trade.Price,
		"pnl", trade.ProfitLoss,
		"pnl_pct", trade.ProfitLossRate,
		"cumulative_pct", trade.CumulativeReturn,
	)
	return trade, nil
}

// realize calcula P/L, tasa (%) e importe del cierre con aritmética decimal.
func realize(pos domain.Position, price float64) (pl, rate, amount float64) {
	qty := decimal.NewFromInt(pos.Quantity)
	px := decimal.NewFromFloat(price)
	d := px.Sub(decimal.NewFromFloat(pos.AvgPrice)).Mul(qty)

	pl, _ = d.Float64()
	amount, _ = px.Mul(qty).Float64()
	if inv := decimal.NewFromFloat(pos.TotalInvestment); inv.IsPositive() {
		rate, _ = d.Div(inv).Mul(decimal.NewFromInt(100)).Float64()
	}
	return pl, rate, amount
}

// cumulativeAt devuelve el acumulado tras el cierre id, con los cierres en orden cronológico.
func cumulativeAt(closed []domain.Trade, id string, conv domain.ReturnConvention) float64 {
	sorted := make([]domain.Trade, len(closed))
	copy(sorted, closed)
	domain.SortClosedTrades(sorted)

	cum := 0.0
	for _, t := range sorted {
		cum = domain.NextCumulative(cum, t.ProfitLossRate, conv)
		if t.ID == id {
			break
		}
	}
	return cum
}

// RecomputeMetrics rebuilds the snapshot from every closed trade and persists it.
// Calling it twice without new trades yields equal snapshots (up to ComputedAt).
func (l *Ledger) RecomputeMetrics(ctx context.Context) (domain.PerformanceSnapshot, error) {
	var snap domain.PerformanceSnapshot
	err := l.store.WithTx(ctx, func(tx ports.LedgerTx) error {
		closed, err := tx.ListClosedTrades(ctx)
		if err != nil {
			return err
		}
		snap = domain.ComputePerformance(closed, l.cfg.Convention, l.now())
		return tx.SaveSnapshot(ctx, snap)
	})
	if err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("ledger.RecomputeMetrics: %w", err)
	}
	return snap, nil
}

// GetPerformance returns the latest persisted snapshot, or a freshly computed one
// (not persisted) when none exists yet.
func (l *Ledger) GetPerformance(ctx context.Context) (domain.PerformanceSnapshot, error) {
	snap, err := l.store.LatestSnapshot(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.PerformanceSnapshot{}, fmt.Errorf("ledger.GetPerformance: %w", err)
	}
	closed, err := l.store.ListClosedTrades(ctx)
	if err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("ledger.GetPerformance: %w", err)
	}
	return domain.ComputePerformance(closed, l.cfg.Convention, l.now()), nil
}

// ListTrades returns trades most recent first; limit <= 0 returns all.
func (l *Ledger) ListTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	ts, err := l.store.ListTrades(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListTrades: %w", err)
	}
	return ts, nil
}

// ListPositions returns the open positions.
func (l *Ledger) ListPositions(ctx context.Context) ([]domain.Position, error) {
	ps, err := l.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListPositions: %w", err)
	}
	return ps, nil
}

// Position returns the open position on instrument, or domain.ErrNotFound.
func (l *Ledger) Position(ctx context.Context, instrument string) (domain.Position, error) {
	p, err := l.store.GetPosition(ctx, instrument)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger.Position: %w", err)
	}
	return p, nil
}

// TradeForItem returns the trade already committed for itemID, if any.
func (l *Ledger) TradeForItem(ctx context.Context, itemID string) (domain.Trade, bool, error) {
	t, err := l.store.TradeForItem(ctx, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, false, nil
	}
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("ledger.TradeForItem: %w", err)
	}
	return t, true, nil
}

// after garantiza que el nuevo trade ordene después del último del instrumento,
// aunque el reloj o req.At vayan hacia atrás.
func after(ctx context.Context, tx ports.LedgerTx, instrument string, at time.Time) (time.Time, error) {
	last, err := tx.LatestTrade(ctx, instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return at, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !at.After(last.Timestamp) {
		return last.Timestamp.Add(time.Nanosecond), nil
	}
	return at, nil
}

// afterClosed desplaza at justo detrás del último cierre de cualquier instrumento.
func afterClosed(closed []domain.Trade, at time.Time) time.Time {
	for _, t := range closed {
		if !at.After(t.Timestamp) {
			at = t.Timestamp.Add(time.Nanosecond)
		}
	}
	return at
}

func (l *Ledger) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return l.now()
	}
	return at.UTC()
}
