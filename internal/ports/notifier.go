package ports

import (
	"context"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// Notifier entrega el resultado de un item. Solo se llama después de que el ledger confirmó.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}
