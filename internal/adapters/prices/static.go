// Package prices resuelve el precio de cierre con el que se simula cada trade.
package prices

import (
	"context"
	"fmt"
	"log/slog"
)

// Static implementa ports.PriceProvider con cotizaciones configuradas.
//
// Orden de resolución: override (--price) > quotes[instrumento] > default.
type Static struct {
	quotes       map[string]float64
	defaultPrice float64
	override     float64
}

// NewStatic crea el provider. defaultPrice <= 0 hace que un instrumento sin
// cotización sea un error.
func NewStatic(quotes map[string]float64, defaultPrice float64) *Static {
	q := make(map[string]float64, len(quotes))
	for k, v := range quotes {
		q[k] = v
	}
	return &Static{quotes: q, defaultPrice: defaultPrice}
}

// WithOverride fija un precio para todos los instrumentos.
func (s *Static) WithOverride(price float64) *Static {
	s.override = price
	return s
}

// Price devuelve el precio del instrumento.
func (s *Static) Price(_ context.Context, instrument string) (float64, error) {
	if s.override > 0 {
		return s.override, nil
	}
	if p, ok := s.quotes[instrument]; ok && p > 0 {
		return p, nil
	}
	if s.defaultPrice > 0 {
		slog.Warn("no quote configured, using default price", "instrument", instrument, "price", s.defaultPrice)
		return s.defaultPrice, nil
	}
	return 0, fmt.Errorf("prices.Price: no quote for %s", instrument)
}
