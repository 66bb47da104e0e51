package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// InsertAnalysis persiste un AnalysisResult. Las filas nunca se actualizan.
func (s *SQLiteStorage) InsertAnalysis(ctx context.Context, a domain.AnalysisResult) error {
	instruments, err := json.Marshal(a.Instruments)
	if err != nil {
		return fmt.Errorf("storage.InsertAnalysis: marshal instruments: %w", err)
	}
	var raw *string
	if len(a.Raw) > 0 {
		v := string(a.Raw)
		raw = &v
	}
	clamped := 0
	if a.ConfidenceClamped {
		clamped = 1
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, item_id, direction, action, reasoning, summary, instruments,
		                      confidence, confidence_clamped, sentiment, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ItemID, string(a.Direction), string(a.Action), a.Reasoning, a.Summary,
		string(instruments), a.Confidence, clamped, a.Sentiment, raw, formatTime(a.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage.InsertAnalysis %s: %w", a.ItemID, err)
	}
	return nil
}

// LatestAnalysis devuelve el análisis más reciente del item, o domain.ErrNotFound.
func (s *SQLiteStorage) LatestAnalysis(ctx context.Context, itemID string) (domain.AnalysisResult, error) {
	var a domain.AnalysisResult
	var direction, action, instruments, created string
	var raw sql.NullString
	var clamped int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, direction, action, reasoning, summary, instruments,
		       confidence, confidence_clamped, sentiment, raw, created_at
		FROM analyses WHERE item_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, itemID,
	).Scan(&a.ID, &a.ItemID, &direction, &action, &a.Reasoning, &a.Summary, &instruments,
		&a.Confidence, &clamped, &a.Sentiment, &raw, &created)
	if err != nil {
		return domain.AnalysisResult{}, notFound(err, "storage.LatestAnalysis "+itemID)
	}

	a.Direction = domain.Direction(direction)
	a.Action = domain.Action(action)
	a.ConfidenceClamped = clamped == 1
	a.CreatedAt = parseTime(created)
	if raw.Valid {
		a.Raw = json.RawMessage(raw.String)
	}
	if err := json.Unmarshal([]byte(instruments), &a.Instruments); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("storage.LatestAnalysis %s: decode instruments: %w", itemID, err)
	}
	return a, nil
}

// CountAnalyses devuelve cuántos análisis tiene el item.
func (s *SQLiteStorage) CountAnalyses(ctx context.Context, itemID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE item_id = ?`, itemID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CountAnalyses: %w", err)
	}
	return n, nil
}
