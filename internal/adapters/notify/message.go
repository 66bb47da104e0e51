package notify

import (
	"fmt"
	"strings"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// FormatMessage arma el texto (Markdown de Telegram) de una notificación.
func FormatMessage(n domain.Notification) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "📺 *%s*\n%s\n\n", escape(n.Item.Title), n.Item.SourceURL)

	if a := n.Analysis; a != nil {
		fmt.Fprintf(&sb, "🧭 기조: `%s` → 역발상: `%s` (신뢰도 %.0f%%)\n", a.Direction, a.Action, a.Confidence*100)
		if a.Summary != "" {
			fmt.Fprintf(&sb, "📝 %s\n", escape(a.Summary))
		}
		sb.WriteString("\n")
	}

	if t := n.Trade; t != nil {
		switch t.Side {
		case domain.SideBuy:
			fmt.Fprintf(&sb, "🟢 매수 %s: %d주 × `%s`\n", t.Instrument, t.Quantity, won(t.Price))
		case domain.SideSell:
			fmt.Fprintf(&sb, "🔴 매도 %s: %d주 × `%s`\n", t.Instrument, t.Quantity, won(t.Price))
			fmt.Fprintf(&sb, "%s 손익: `%s` (%s) | 누적 %s\n",
				profitEmoji(t.ProfitLoss), won(t.ProfitLoss), pct(t.ProfitLossRate), pct(t.CumulativeReturn))
		}
	} else if n.Message != "" {
		fmt.Fprintf(&sb, "⏸ %s\n", escape(n.Message))
	}

	if len(n.Positions) > 0 {
		fmt.Fprintf(&sb, "\n📈 보유종목 (%d개)\n", len(n.Positions))
		for _, p := range n.Positions {
			fmt.Fprintf(&sb, "  • %s %d주 @ `%s`\n", p.Instrument, p.Quantity, won(p.AvgPrice))
		}
	}

	if perf := n.Performance; perf != nil && perf.TotalTrades > 0 {
		fmt.Fprintf(&sb, "\n📊 %d건 | 승률 %.1f%% | 누적 %s | MDD %.2fp\n",
			perf.TotalTrades, perf.WinRate, pct(perf.CumulativeReturn), perf.MaxDrawdown)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func won(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + commas(int64(v+0.5)) + "원"
}

func commas(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		sb.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func profitEmoji(v float64) string {
	if v >= 0 {
		return "💰"
	}
	return "📉"
}

// escape neutraliza los caracteres de Markdown que rompen el parse de Telegram.
var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return mdEscaper.Replace(s)
}
