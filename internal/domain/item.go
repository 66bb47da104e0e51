package domain

import "time"

// Outcome es el resultado terminal (o diferido) de procesar un item.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"    // transición del ledger confirmada
	OutcomeSkipped     Outcome = "skipped"      // HOLD o posición ya abierta
	OutcomeDeferred    Outcome = "deferred"     // falló una etapa, se reintenta en el próximo run
	OutcomeInvalid     Outcome = "invalid"      // señal no parseable, no se reintenta
	OutcomeNotForecast Outcome = "not_forecast" // no es opinión/pronóstico
	OutcomeNotOpen     Outcome = "not_open"     // SELL sin posición abierta
	OutcomeBootstrap   Outcome = "bootstrap"    // sembrado en el primer run, nunca procesado
)

// Terminal reports whether an item with this outcome must never be retried.
func (o Outcome) Terminal() bool {
	return o != OutcomeDeferred && o != ""
}

// Item es una unidad de contenido del feed (un vídeo).
type Item struct {
	ID                string
	Title             string
	PublishedAt       time.Time
	SourceURL         string
	DetectedAt        time.Time
	ProcessedAt       *time.Time
	TranscriptSummary *string

	// Seen y Processed son independientes: un item visto pero no procesado
	// quedó a medias y se reintenta; uno procesado nunca se reintenta.
	Seen      bool
	Processed bool
	Outcome   Outcome
	Attempts  int
	LastError string
}
