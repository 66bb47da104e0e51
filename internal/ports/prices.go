package ports

import "context"

// PriceProvider returns the price to book a simulated trade at.
type PriceProvider interface {
	Price(ctx context.Context, instrument string) (float64, error)
}
