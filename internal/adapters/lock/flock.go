// Package lock impide que dos procesos orquesten sobre la misma base de datos.
package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked: otro proceso ya tiene el lock.
var ErrLocked = errors.New("another run holds the lock")

// RunLock es un lock advisory sobre un archivo.
type RunLock struct {
	fl *flock.Flock
}

// Acquire toma el lock sin bloquear.
func Acquire(path string) (*RunLock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock.Acquire %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock.Acquire %s: %w", path, ErrLocked)
	}
	return &RunLock{fl: fl}, nil
}

// Release libera el lock.
func (l *RunLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lock.Release: %w", err)
	}
	return nil
}
