package prices

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/contrabot/internal/ports"
)

// Fallback consulta Primary y, si falla, Secondary.
type Fallback struct {
	Primary   ports.PriceProvider
	Secondary ports.PriceProvider
}

func (f Fallback) Price(ctx context.Context, instrument string) (float64, error) {
	p, err := f.Primary.Price(ctx, instrument)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}
	slog.Warn("price source failed, using fallback", "instrument", instrument, "err", err)
	return f.Secondary.Price(ctx, instrument)
}
