package httpapi

import (
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

type tradeView struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"item_id"`
	AnalysisID       string    `json:"analysis_id,omitempty"`
	Instrument       string    `json:"instrument"`
	Side             string    `json:"side"`
	Timestamp        time.Time `json:"timestamp"`
	Quantity         int64     `json:"quantity"`
	Price            float64   `json:"price"`
	Amount           float64   `json:"amount"`
	RelatedBuyID     string    `json:"related_buy_id,omitempty"`
	ProfitLoss       *float64  `json:"profit_loss,omitempty"`
	ProfitLossRate   *float64  `json:"profit_loss_rate,omitempty"`
	CumulativeReturn *float64  `json:"cumulative_return,omitempty"`
	Note             string    `json:"note,omitempty"`
}

func newTradeView(t domain.Trade) tradeView {
	v := tradeView{
		ID: t.ID, ItemID: t.ItemID, AnalysisID: t.AnalysisID, Instrument: t.Instrument,
		Side: string(t.Side), Timestamp: t.Timestamp, Quantity: t.Quantity, Price: t.Price,
		Amount: t.Amount, RelatedBuyID: t.RelatedBuyID, Note: t.Note,
	}
	if t.IsClose() {
		pl, rate, cum := t.ProfitLoss, t.ProfitLossRate, t.CumulativeReturn
		v.ProfitLoss, v.ProfitLossRate, v.CumulativeReturn = &pl, &rate, &cum
	}
	return v
}

type positionView struct {
	Instrument      string    `json:"instrument"`
	OpenTradeID     string    `json:"open_trade_id"`
	ItemID          string    `json:"item_id"`
	Quantity        int64     `json:"quantity"`
	AvgPrice        float64   `json:"avg_price"`
	TotalInvestment float64   `json:"total_investment"`
	OpenedAt        time.Time `json:"opened_at"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		Instrument: p.Instrument, OpenTradeID: p.OpenTradeID, ItemID: p.ItemID,
		Quantity: p.Quantity, AvgPrice: p.AvgPrice, TotalInvestment: p.TotalInvestment,
		OpenedAt: p.OpenedAt,
	}
}

type performanceView struct {
	ComputedAt         time.Time `json:"computed_at"`
	Convention         string    `json:"convention"`
	TotalTrades        int       `json:"total_trades"`
	WinningTrades      int       `json:"winning_trades"`
	LosingTrades       int       `json:"losing_trades"`
	WinRate            float64   `json:"win_rate"`
	CumulativeReturn   float64   `json:"cumulative_return"`
	AvgReturn          float64   `json:"avg_return"`
	MaxDrawdown        float64   `json:"max_drawdown"`
	RiskAdjustedReturn *float64  `json:"risk_adjusted_return"`
}

func newPerformanceView(s domain.PerformanceSnapshot) performanceView {
	return performanceView{
		ComputedAt: s.ComputedAt, Convention: string(s.Convention), TotalTrades: s.TotalTrades,
		WinningTrades: s.WinningTrades, LosingTrades: s.LosingTrades, WinRate: s.WinRate,
		CumulativeReturn: s.CumulativeReturn, AvgReturn: s.AvgReturn, MaxDrawdown: s.MaxDrawdown,
		RiskAdjustedReturn: s.RiskAdjustedReturn,
	}
}
