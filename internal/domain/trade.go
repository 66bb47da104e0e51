package domain

import "time"

// Side is the side of a ledger trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is an append-only ledger event. The profit fields are only meaningful for SELL.
type Trade struct {
	ID         string
	ItemID     string
	AnalysisID string
	Instrument string
	Side       Side
	Timestamp  time.Time
	Quantity   int64
	Price      float64
	Amount     float64 // Quantity × Price

	RelatedBuyID     string  // SELL: trade that opened the closed position
	ProfitLoss       float64 // SELL: (price - avg buy price) × quantity
	ProfitLossRate   float64 // SELL: % over the invested amount
	CumulativeReturn float64 // SELL: running cumulative return after this close, %

	Note string
}

// IsClose reports whether the trade closed a position.
func (t Trade) IsClose() bool {
	return t.Side == SideSell
}

// Position is the current holding on one instrument. At most one per instrument.
type Position struct {
	Instrument      string
	OpenTradeID     string
	ItemID          string
	Quantity        int64
	AvgPrice        float64
	TotalInvestment float64
	OpenedAt        time.Time
	Note            string
}
