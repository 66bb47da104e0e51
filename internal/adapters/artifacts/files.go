// Package artifacts guarda la transcripción y el análisis de cada item en disco,
// un directorio por item, para revisarlos a mano.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// Files implementa ports.ArtifactStore sobre el sistema de archivos.
type Files struct {
	dir string
}

// NewFiles crea el store bajo dir.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// SaveTranscript escribe <dir>/<item>/transcript.txt.
func (f *Files) SaveTranscript(_ context.Context, item domain.Item, text string) error {
	if err := f.write(item, "transcript.txt", []byte(text)); err != nil {
		return fmt.Errorf("artifacts.SaveTranscript: %w", err)
	}
	return nil
}

type analysisDoc struct {
	ItemID      string                    `json:"item_id"`
	Title       string                    `json:"title"`
	URL         string                    `json:"url"`
	AnalysisID  string                    `json:"analysis_id"`
	Direction   domain.Direction          `json:"direction"`
	Action      domain.Action             `json:"action"`
	Confidence  float64                   `json:"confidence"`
	Clamped     bool                      `json:"confidence_clamped,omitempty"`
	Sentiment   float64                   `json:"sentiment"`
	Summary     string                    `json:"summary"`
	Reasoning   string                    `json:"reasoning"`
	Instruments []domain.InstrumentWeight `json:"instruments"`
	Raw         json.RawMessage           `json:"raw,omitempty"`
}

// SaveAnalysis escribe <dir>/<item>/analysis.json.
func (f *Files) SaveAnalysis(_ context.Context, item domain.Item, a domain.AnalysisResult) error {
	doc := analysisDoc{
		ItemID: item.ID, Title: item.Title, URL: item.SourceURL, AnalysisID: a.ID,
		Direction: a.Direction, Action: a.Action, Confidence: a.Confidence,
		Clamped: a.ConfidenceClamped, Sentiment: a.Sentiment, Summary: a.Summary,
		Reasoning: a.Reasoning, Instruments: a.Instruments,
	}
	if json.Valid(a.Raw) {
		doc.Raw = a.Raw
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts.SaveAnalysis: %w", err)
	}
	if err := f.write(item, "analysis.json", b); err != nil {
		return fmt.Errorf("artifacts.SaveAnalysis: %w", err)
	}
	return nil
}

func (f *Files) write(item domain.Item, name string, data []byte) error {
	dir := filepath.Join(f.dir, item.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
