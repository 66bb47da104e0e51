package ports

import (
	"context"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// ArtifactStore guarda copias legibles de la transcripción y el análisis de cada item.
// Es opcional: un fallo aquí se loguea y no afecta al item.
type ArtifactStore interface {
	SaveTranscript(ctx context.Context, item domain.Item, text string) error
	SaveAnalysis(ctx context.Context, item domain.Item, a domain.AnalysisResult) error
}
