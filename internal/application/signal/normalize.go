// Package signal validates and normalizes the raw extractor payload into an analysis.
package signal

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

var instrumentCode = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// Aliases aceptados: el extractor responde en coreano o en inglés.
var (
	directions = map[string]domain.Direction{
		"UP": domain.DirectionUp, "상승": domain.DirectionUp,
		"DOWN": domain.DirectionDown, "하락": domain.DirectionDown,
		"NEUTRAL": domain.DirectionNeutral, "중립": domain.DirectionNeutral,
	}
	actions = map[string]domain.Action{
		"BUY": domain.ActionBuy, "매수": domain.ActionBuy,
		"SELL": domain.ActionSell, "매도": domain.ActionSell,
		"HOLD": domain.ActionHold, "관망": domain.ActionHold,
	}
	notForecast = map[string]bool{
		"SKIP": true, "NOT_FORECAST": true, "스킵 대상": true, "스킵": true,
	}
)

// Normalize converts payload into an AnalysisResult without ID, ItemID or CreatedAt.
//
// Returns domain.ErrNotForecast when the content is not a market opinion and
// domain.ErrInvalidSignal when direction, action or confidence cannot be used.
func Normalize(p domain.SignalPayload) (domain.AnalysisResult, error) {
	if notForecast[key(p.ContentType)] {
		return domain.AnalysisResult{}, domain.ErrNotForecast
	}

	dir, ok := directions[key(p.Direction)]
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("signal.Normalize: direction %q: %w", p.Direction, domain.ErrInvalidSignal)
	}

	action := dir.Contrarian()
	if raw := key(p.Action); raw != "" {
		a, ok := actions[raw]
		if !ok {
			return domain.AnalysisResult{}, fmt.Errorf("signal.Normalize: action %q: %w", p.Action, domain.ErrInvalidSignal)
		}
		if a != action {
			slog.Warn("action disagrees with contrarian rule, keeping extractor action",
				"direction", dir, "action", a, "expected", action)
		}
		action = a
	}

	if math.IsNaN(p.Confidence) {
		return domain.AnalysisResult{}, fmt.Errorf("signal.Normalize: confidence NaN: %w", domain.ErrInvalidSignal)
	}
	conf, clamped := clamp(p.Confidence)

	res := domain.AnalysisResult{
		Direction:         dir,
		Action:            action,
		Reasoning:         strings.TrimSpace(p.Reasoning),
		Summary:           strings.TrimSpace(p.Summary),
		Instruments:       instruments(p.Instruments),
		Confidence:        conf,
		ConfidenceClamped: clamped,
		Sentiment:         p.Sentiment,
		Raw:               p.Raw,
	}
	return res, nil
}

func key(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func clamp(c float64) (float64, bool) {
	switch {
	case c < 0:
		return 0, true
	case c > 1:
		return 1, true
	default:
		return c, false
	}
}

// instruments descarta uno a uno los códigos mal formados y los pesos negativos.
func instruments(in []domain.PayloadInstrument) []domain.InstrumentWeight {
	out := make([]domain.InstrumentWeight, 0, len(in))
	for _, pi := range in {
		code := key(pi.Code)
		if !instrumentCode.MatchString(code) {
			slog.Debug("dropping malformed instrument", "code", pi.Code)
			continue
		}
		if pi.Weight != nil && (*pi.Weight < 0 || math.IsNaN(*pi.Weight)) {
			slog.Debug("dropping instrument with invalid weight", "code", code)
			continue
		}
		out = append(out, domain.InstrumentWeight{Code: code, Weight: pi.Weight})
	}
	return out
}
