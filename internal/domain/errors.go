package domain

import (
	"errors"
	"fmt"
)

// Errores del pipeline y del ledger. Los adapters envuelven con %w para que
// el orquestador pueda clasificar con errors.Is / errors.As.
var (
	// ErrDuplicateItem: mark_seen dos veces sin override. Benigno.
	ErrDuplicateItem = errors.New("item already marked as seen")

	// ErrChunkTranscription: un chunk agotó los reintentos. Abortar el item, reintentar en el próximo run.
	ErrChunkTranscription = errors.New("chunk transcription failed")

	// ErrInvalidSignal: el extractor devolvió valores fuera del enum. No se reintenta.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrNotForecast: el contenido no es una opinión/pronóstico. Skip silencioso.
	ErrNotForecast = errors.New("content is not a forecast")

	// ErrAlreadyOpen / ErrNotOpen indican un bug de consistencia, nunca una condición esperada.
	ErrAlreadyOpen = errors.New("position already open")
	ErrNotOpen     = errors.New("no open position")

	// ErrLedgerInconsistent: posiciones y trades no cuadran al arrancar.
	ErrLedgerInconsistent = errors.New("ledger inconsistent")

	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrNotFound        = errors.New("not found")
)

// ChunkTranscriptionError identifies which chunk of an item could not be transcribed.
type ChunkTranscriptionError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkTranscriptionError) Error() string {
	return fmt.Sprintf("%s: chunk %d/%d: %v", ErrChunkTranscription, e.Index+1, e.Total, e.Err)
}

func (e *ChunkTranscriptionError) Unwrap() []error {
	return []error{ErrChunkTranscription, e.Err}
}

// IsLedgerInvariant reports whether err is a ledger invariant violation.
func IsLedgerInvariant(err error) bool {
	return errors.Is(err, ErrAlreadyOpen) || errors.Is(err, ErrNotOpen) || errors.Is(err, ErrLedgerInconsistent)
}
