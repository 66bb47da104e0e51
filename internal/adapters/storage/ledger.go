package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
)

// WithTx runs fn inside a single SQLite transaction. Commit happens only if fn
// returns nil. Once started, the transaction ignores cancellation of ctx so an
// interrupt never leaves a trade without its position change; a crash mid-way is
// rolled back by SQLite's journal on the next open.
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage.WithTx: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.WithTx: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ledgerReader: ledgerReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.WithTx: commit: %w", err)
	}
	return nil
}

// sqliteTx implementa ports.LedgerTx. Todas las lecturas pasan por la tx:
// con una sola conexión, leer desde s.db aquí bloquearía.
type sqliteTx struct {
	ledgerReader
	tx *sql.Tx
}

// InsertTrade añade un trade. Un SELL cuyo BUY ya tiene cierre viola related_buy_id UNIQUE.
func (t *sqliteTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	var related *string
	var pnl, rate, cum *float64
	if tr.IsClose() {
		related = &tr.RelatedBuyID
		pnl, rate, cum = &tr.ProfitLoss, &tr.ProfitLossRate, &tr.CumulativeReturn
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO trades (id, item_id, analysis_id, instrument, side, timestamp, quantity,
		                    price, amount, related_buy_id, profit_loss, profit_loss_rate,
		                    cumulative_return, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		tr.ID, tr.ItemID, tr.AnalysisID, tr.Instrument, string(tr.Side), formatTime(tr.Timestamp),
		tr.Quantity, tr.Price, tr.Amount, related, pnl, rate, cum, tr.Note,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertTrade %s: %w", tr.Instrument, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if tr.IsClose() {
			return fmt.Errorf("storage.InsertTrade %s: buy %s already closed: %w", tr.Instrument, tr.RelatedBuyID, domain.ErrNotOpen)
		}
		return fmt.Errorf("storage.InsertTrade %s: duplicate trade id %s", tr.Instrument, tr.ID)
	}
	return nil
}

// InsertPosition abre la posición; si ya existe una para el instrumento devuelve ErrAlreadyOpen.
func (t *sqliteTx) InsertPosition(ctx context.Context, p domain.Position) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (instrument, open_trade_id, item_id, quantity, avg_price,
		                       total_investment, opened_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument) DO NOTHING`,
		p.Instrument, p.OpenTradeID, p.ItemID, p.Quantity, p.AvgPrice,
		p.TotalInvestment, formatTime(p.OpenedAt), p.Note,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertPosition %s: %w", p.Instrument, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.InsertPosition %s: %w", p.Instrument, domain.ErrAlreadyOpen)
	}
	return nil
}

// DeletePosition borra (no soft-delete) la posición del instrumento.
func (t *sqliteTx) DeletePosition(ctx context.Context, instrument string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE instrument = ?`, instrument)
	if err != nil {
		return fmt.Errorf("storage.DeletePosition %s: %w", instrument, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.DeletePosition %s: %w", instrument, domain.ErrNotOpen)
	}
	return nil
}

// SaveSnapshot añade un snapshot de métricas.
func (t *sqliteTx) SaveSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO performance_snapshots (computed_at, convention, total_trades, winning_trades,
		                                   losing_trades, win_rate, cumulative_return, avg_return,
		                                   max_drawdown, risk_adjusted_return)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(s.ComputedAt), string(s.Convention), s.TotalTrades, s.WinningTrades,
		s.LosingTrades, s.WinRate, s.CumulativeReturn, s.AvgReturn, s.MaxDrawdown,
		s.RiskAdjustedReturn,
	); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: %w", err)
	}
	return nil
}

// --- lecturas (compartidas por SQLiteStorage y sqliteTx) ---

type ledgerReader struct {
	q querier
}

const tradeSelect = `
	SELECT id, item_id, analysis_id, instrument, side, timestamp, quantity, price, amount,
	       related_buy_id, profit_loss, profit_loss_rate, cumulative_return, note
	FROM trades`

const positionSelect = `
	SELECT instrument, open_trade_id, item_id, quantity, avg_price, total_investment,
	       opened_at, note
	FROM positions`

// GetPosition devuelve la posición abierta del instrumento, o domain.ErrNotFound.
func (r ledgerReader) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	ps, err := r.queryPositions(ctx, positionSelect+` WHERE instrument = ?`, instrument)
	if err != nil {
		return domain.Position{}, fmt.Errorf("storage.GetPosition: %w", err)
	}
	if len(ps) == 0 {
		return domain.Position{}, fmt.Errorf("storage.GetPosition %s: %w", instrument, domain.ErrNotFound)
	}
	return ps[0], nil
}

// ListPositions devuelve las posiciones abiertas ordenadas por apertura.
func (r ledgerReader) ListPositions(ctx context.Context) ([]domain.Position, error) {
	ps, err := r.queryPositions(ctx, positionSelect+` ORDER BY opened_at, instrument`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPositions: %w", err)
	}
	return ps, nil
}

// GetTrade devuelve un trade por id, o domain.ErrNotFound.
func (r ledgerReader) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	ts, err := r.queryTrades(ctx, tradeSelect+` WHERE id = ?`, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: %w", err)
	}
	if len(ts) == 0 {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade %s: %w", id, domain.ErrNotFound)
	}
	return ts[0], nil
}

// ListTrades devuelve los trades más recientes primero. limit <= 0 = todos.
func (r ledgerReader) ListTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 = sin límite
	}
	ts, err := r.queryTrades(ctx, tradeSelect+` ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListTrades: %w", err)
	}
	return ts, nil
}

// ListClosedTrades devuelve los SELL en orden cronológico de cierre.
func (r ledgerReader) ListClosedTrades(ctx context.Context) ([]domain.Trade, error) {
	ts, err := r.queryTrades(ctx, tradeSelect+` WHERE side = 'SELL' ORDER BY timestamp, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListClosedTrades: %w", err)
	}
	return ts, nil
}

// ListAllTrades devuelve todo el historial en orden cronológico.
func (r ledgerReader) ListAllTrades(ctx context.Context) ([]domain.Trade, error) {
	ts, err := r.queryTrades(ctx, tradeSelect+` ORDER BY timestamp, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListAllTrades: %w", err)
	}
	return ts, nil
}

// TradeForItem devuelve el trade que generó el item, o domain.ErrNotFound.
func (r ledgerReader) TradeForItem(ctx context.Context, itemID string) (domain.Trade, error) {
	ts, err := r.queryTrades(ctx, tradeSelect+` WHERE item_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, itemID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.TradeForItem: %w", err)
	}
	if len(ts) == 0 {
		return domain.Trade{}, fmt.Errorf("storage.TradeForItem %s: %w", itemID, domain.ErrNotFound)
	}
	return ts[0], nil
}

// LatestTrade devuelve el último trade del instrumento, o domain.ErrNotFound.
func (r ledgerReader) LatestTrade(ctx context.Context, instrument string) (domain.Trade, error) {
	ts, err := r.queryTrades(ctx, tradeSelect+` WHERE instrument = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, instrument)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.LatestTrade: %w", err)
	}
	if len(ts) == 0 {
		return domain.Trade{}, fmt.Errorf("storage.LatestTrade %s: %w", instrument, domain.ErrNotFound)
	}
	return ts[0], nil
}

// LatestSnapshot devuelve el último snapshot persistido, o domain.ErrNotFound.
func (r ledgerReader) LatestSnapshot(ctx context.Context) (domain.PerformanceSnapshot, error) {
	var s domain.PerformanceSnapshot
	var computed, convention string
	var risk sql.NullFloat64
	err := r.q.QueryRowContext(ctx, `
		SELECT computed_at, convention, total_trades, winning_trades, losing_trades, win_rate,
		       cumulative_return, avg_return, max_drawdown, risk_adjusted_return
		FROM performance_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&computed, &convention, &s.TotalTrades, &s.WinningTrades, &s.LosingTrades,
		&s.WinRate, &s.CumulativeReturn, &s.AvgReturn, &s.MaxDrawdown, &risk)
	if err != nil {
		return domain.PerformanceSnapshot{}, notFound(err, "storage.LatestSnapshot")
	}
	s.ComputedAt = parseTime(computed)
	s.Convention = domain.ReturnConvention(convention)
	if risk.Valid {
		v := risk.Float64
		s.RiskAdjustedReturn = &v
	}
	return s, nil
}

func (r ledgerReader) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, ts string
		var related sql.NullString
		var pnl, rate, cum sql.NullFloat64
		if err := rows.Scan(
			&t.ID, &t.ItemID, &t.AnalysisID, &t.Instrument, &side, &ts, &t.Quantity,
			&t.Price, &t.Amount, &related, &pnl, &rate, &cum, &t.Note,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.Timestamp = parseTime(ts)
		t.RelatedBuyID = related.String
		t.ProfitLoss = pnl.Float64
		t.ProfitLossRate = rate.Float64
		t.CumulativeReturn = cum.Float64
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (r ledgerReader) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []domain.Position
	for rows.Next() {
		var p domain.Position
		var opened string
		if err := rows.Scan(
			&p.Instrument, &p.OpenTradeID, &p.ItemID, &p.Quantity, &p.AvgPrice,
			&p.TotalInvestment, &opened, &p.Note,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.OpenedAt = parseTime(opened)
		ps = append(ps, p)
	}
	return ps, rows.Err()
}
