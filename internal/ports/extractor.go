package ports

import (
	"context"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// SignalExtractor is the opaque language-model boundary. It returns an unvalidated
// payload; the core validates and normalizes it.
type SignalExtractor interface {
	Extract(ctx context.Context, item domain.Item, transcript string) (domain.SignalPayload, error)
}
