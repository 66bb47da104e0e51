package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// Console implementa ports.Notifier escribiendo a un io.Writer; también imprime
// los reportes del ledger.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify imprime una línea compacta del item y, si hubo trade, su detalle.
func (c *Console) Notify(_ context.Context, n domain.Notification) error {
	now := time.Now().Format("15:04:05")

	line := fmt.Sprintf("[%s] %s %q → %s", now, n.Item.ID, compactName(n.Item.Title, 40), n.Outcome)
	if a := n.Analysis; a != nil {
		line += fmt.Sprintf(" | %s→%s conf %.2f", a.Direction, a.Action, a.Confidence)
	}
	if n.Message != "" {
		line += " | " + n.Message
	}
	fmt.Fprintln(c.out, line)

	if n.Trade != nil {
		c.PrintTrades([]domain.Trade{*n.Trade})
	}
	if n.Performance != nil && n.Performance.TotalTrades > 0 {
		c.PrintPerformance(*n.Performance)
	}
	return nil
}

// PrintTrades imprime los trades en tabla.
func (c *Console) PrintTrades(trades []domain.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "no trades")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Side", "Instrument", "Qty", "Price", "Amount", "P/L", "P/L %", "Cum %")
	for _, t := range trades {
		pl, rate, cum := "", "", ""
		if t.IsClose() {
			pl = fmt.Sprintf("%.0f", t.ProfitLoss)
			rate = fmt.Sprintf("%+.2f", t.ProfitLossRate)
			cum = fmt.Sprintf("%+.2f", t.CumulativeReturn)
		}
		table.Append(
			t.Timestamp.Format("2006-01-02 15:04"),
			string(t.Side),
			t.Instrument,
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("%.0f", t.Price),
			fmt.Sprintf("%.0f", t.Amount),
			pl, rate, cum,
		)
	}
	table.Render()
}

// PrintPositions imprime las posiciones abiertas.
func (c *Console) PrintPositions(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "no open positions")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Instrument", "Qty", "Avg price", "Invested", "Opened", "Item")
	for _, p := range positions {
		table.Append(
			p.Instrument,
			fmt.Sprintf("%d", p.Quantity),
			fmt.Sprintf("%.0f", p.AvgPrice),
			fmt.Sprintf("%.0f", p.TotalInvestment),
			p.OpenedAt.Format("2006-01-02 15:04"),
			p.ItemID,
		)
	}
	table.Render()
}

// PrintPerformance imprime el snapshot de métricas.
func (c *Console) PrintPerformance(s domain.PerformanceSnapshot) {
	risk := "n/a"
	if s.RiskAdjustedReturn != nil {
		risk = fmt.Sprintf("%.3f", *s.RiskAdjustedReturn)
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Trades", "Win", "Loss", "Win %", "Cum %", "Avg %", "MDD", "Risk adj", "Conv")
	table.Append(
		fmt.Sprintf("%d", s.TotalTrades),
		fmt.Sprintf("%d", s.WinningTrades),
		fmt.Sprintf("%d", s.LosingTrades),
		fmt.Sprintf("%.1f", s.WinRate),
		fmt.Sprintf("%+.2f", s.CumulativeReturn),
		fmt.Sprintf("%+.2f", s.AvgReturn),
		fmt.Sprintf("%.2f", s.MaxDrawdown),
		risk,
		string(s.Convention),
	)
	table.Render()
}

// compactName recorta un título largo para una línea de log.
func compactName(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
