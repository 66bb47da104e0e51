package ports

import (
	"context"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// FeedProvider devuelve los items actualmente visibles en el feed, en orden de publicación
// (más antiguo primero).
type FeedProvider interface {
	FetchItems(ctx context.Context) ([]domain.Item, error)
}
