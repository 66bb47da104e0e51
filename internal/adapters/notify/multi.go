package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
)

// Multi reparte cada notificación a todos los notificadores. Un fallo no
// impide el envío a los demás.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
