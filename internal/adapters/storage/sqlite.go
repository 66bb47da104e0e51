package storage

// sqlite.go: estado persistente del bot en un único archivo SQLite.
//
// Estrategia:
//   - `items`: una fila por vídeo detectado, con dos flags independientes
//     (seen / processed). Un item visto pero no procesado se reintenta.
//   - `analyses`: resultados inmutables del extractor; el ledger usa el último.
//   - `trades` / `positions` / `performance_snapshots`: el ledger. Solo se escriben
//     dentro de WithTx (ver ledger.go).
//   - PruneSnapshots: snapshots > 90d (siempre se conserva el último); lo llama
//     solo el proceso que tiene el lock.
//     Items y trades no se borran nunca desde aquí.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id                 TEXT PRIMARY KEY,
    title              TEXT    NOT NULL DEFAULT '',
    published_at       TEXT,
    source_url         TEXT    NOT NULL DEFAULT '',
    detected_at        TEXT    NOT NULL,
    processed_at       TEXT,
    transcript_summary TEXT,
    seen               INTEGER NOT NULL DEFAULT 1,
    processed          INTEGER NOT NULL DEFAULT 0,
    outcome            TEXT    NOT NULL DEFAULT '',
    attempts           INTEGER NOT NULL DEFAULT 0,
    last_error         TEXT    NOT NULL DEFAULT '',
    seq                INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS analyses (
    id                 TEXT PRIMARY KEY,
    item_id            TEXT    NOT NULL REFERENCES items(id),
    direction          TEXT    NOT NULL,
    action             TEXT    NOT NULL,
    reasoning          TEXT    NOT NULL DEFAULT '',
    summary            TEXT    NOT NULL DEFAULT '',
    instruments        TEXT    NOT NULL DEFAULT '[]',
    confidence         REAL    NOT NULL DEFAULT 0,
    confidence_clamped INTEGER NOT NULL DEFAULT 0,
    sentiment          REAL    NOT NULL DEFAULT 0,
    raw                TEXT,
    created_at         TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    item_id           TEXT    NOT NULL,
    analysis_id       TEXT    NOT NULL DEFAULT '',
    instrument        TEXT    NOT NULL,
    side              TEXT    NOT NULL CHECK (side IN ('BUY', 'SELL')),
    timestamp         TEXT    NOT NULL,
    quantity          INTEGER NOT NULL CHECK (quantity > 0),
    price             REAL    NOT NULL CHECK (price > 0),
    amount            REAL    NOT NULL,
    related_buy_id    TEXT UNIQUE REFERENCES trades(id),
    profit_loss       REAL,
    profit_loss_rate  REAL,
    cumulative_return REAL,
    note              TEXT    NOT NULL DEFAULT ''
);

-- Una fila por instrumento: la PK impide el pyramiding a nivel de DB.
CREATE TABLE IF NOT EXISTS positions (
    instrument       TEXT PRIMARY KEY,
    open_trade_id    TEXT    NOT NULL UNIQUE REFERENCES trades(id),
    item_id          TEXT    NOT NULL,
    quantity         INTEGER NOT NULL,
    avg_price        REAL    NOT NULL,
    total_investment REAL    NOT NULL,
    opened_at        TEXT    NOT NULL,
    note             TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS performance_snapshots (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    computed_at          TEXT    NOT NULL,
    convention           TEXT    NOT NULL,
    total_trades         INTEGER NOT NULL DEFAULT 0,
    winning_trades       INTEGER NOT NULL DEFAULT 0,
    losing_trades        INTEGER NOT NULL DEFAULT 0,
    win_rate             REAL    NOT NULL DEFAULT 0,
    cumulative_return    REAL    NOT NULL DEFAULT 0,
    avg_return           REAL    NOT NULL DEFAULT 0,
    max_drawdown         REAL    NOT NULL DEFAULT 0,
    risk_adjusted_return REAL
);

-- Marcas de estado del proceso (p.ej. cuándo se hizo el bootstrap del feed).
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_pending     ON items(processed, seq);
CREATE INDEX IF NOT EXISTS idx_analyses_item     ON analyses(item_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_time       ON trades(timestamp DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_trades_item       ON trades(item_id);
CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument, timestamp);
`

const retentionSnapshots = 90 * 24 * time.Hour

const metaFeedBootstrapped = "feed_bootstrapped_at"

// timeLayout es de ancho fijo para que ORDER BY sobre TEXT sea cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier es lo común entre *sql.DB y *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implementa ports.ItemStore, ports.AnalysisStore y ports.LedgerStore
// usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
	ledgerReader
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// y aplica el schema. No escribe datos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	return &SQLiteStorage{db: db, ledgerReader: ledgerReader{q: db}}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// IsBootstrapped indica si el feed ya se sembró alguna vez. Los items registrados
// en modo single-item no cuentan. Las bases anteriores a la tabla meta se
// reconocen por sus items con outcome bootstrap.
func (s *SQLiteStorage) IsBootstrapped(ctx context.Context) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM meta WHERE key = ?)
		    OR EXISTS (SELECT 1 FROM items WHERE outcome = ?)`,
		metaFeedBootstrapped, string(domain.OutcomeBootstrap),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("storage.IsBootstrapped: %w", err)
	}
	return ok, nil
}

// CountItems devuelve cuántos items hay registrados.
func (s *SQLiteStorage) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CountItems: %w", err)
	}
	return n, nil
}

// GetItem devuelve un item por id, o domain.ErrNotFound.
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (domain.Item, error) {
	items, err := s.queryItems(ctx, itemSelect+` WHERE id = ?`, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("storage.GetItem: %w", err)
	}
	if len(items) == 0 {
		return domain.Item{}, fmt.Errorf("storage.GetItem %s: %w", id, domain.ErrNotFound)
	}
	return items[0], nil
}

// InsertItem registra un item como visto (seen=1, processed=0).
func (s *SQLiteStorage) InsertItem(ctx context.Context, item domain.Item) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, title, published_at, source_url, detected_at, seen, processed, seq)
		VALUES (?, ?, ?, ?, ?, 1, 0, (SELECT COALESCE(MAX(seq), 0) + 1 FROM items))
		ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Title, formatTimePtr(nonZero(item.PublishedAt)), item.SourceURL,
		formatTime(item.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertItem %s: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.InsertItem %s: %w", item.ID, domain.ErrDuplicateItem)
	}
	return nil
}

// UpdateItemMetadata refresca título/URL/fecha sin tocar los flags.
func (s *SQLiteStorage) UpdateItemMetadata(ctx context.Context, item domain.Item) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET title = ?, published_at = ?, source_url = ? WHERE id = ?`,
		item.Title, formatTimePtr(nonZero(item.PublishedAt)), item.SourceURL, item.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateItemMetadata %s: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateItemMetadata %s: %w", item.ID, domain.ErrNotFound)
	}
	return nil
}

// SeedItems marca todos los items como vistos y procesados y registra el bootstrap
// del feed, en una sola transacción. Los items ya registrados no se tocan.
// Devuelve cuántos se insertaron.
func (s *SQLiteStorage) SeedItems(ctx context.Context, items []domain.Item, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.SeedItems: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, title, published_at, source_url, detected_at,
		                   processed_at, seen, processed, outcome, seq)
		VALUES (?, ?, ?, ?, ?, ?, 1, 1, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM items))
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("storage.SeedItems: prepare: %w", err)
	}
	defer stmt.Close()

	seeded := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.ID, it.Title, formatTimePtr(nonZero(it.PublishedAt)), it.SourceURL,
			formatTime(at), formatTime(at), string(domain.OutcomeBootstrap),
		)
		if err != nil {
			return 0, fmt.Errorf("storage.SeedItems: insert %s: %w", it.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seeded++
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		metaFeedBootstrapped, formatTime(at)); err != nil {
		return 0, fmt.Errorf("storage.SeedItems: mark bootstrap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.SeedItems: commit: %w", err)
	}
	return seeded, nil
}

// MarkItemProcessed pone processed=1 con su outcome terminal.
func (s *SQLiteStorage) MarkItemProcessed(ctx context.Context, id string, outcome domain.Outcome, summary *string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET processed = 1, outcome = ?, processed_at = ?,
		    transcript_summary = COALESCE(?, transcript_summary), last_error = ''
		WHERE id = ?`,
		string(outcome), formatTime(at), summary, id,
	)
	if err != nil {
		return fmt.Errorf("storage.MarkItemProcessed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.MarkItemProcessed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkItemFailed deja el item pendiente (processed=0) y registra el error.
func (s *SQLiteStorage) MarkItemFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET attempts = attempts + 1, last_error = ?, outcome = ?
		WHERE id = ? AND processed = 0`,
		reason, string(domain.OutcomeDeferred), id,
	)
	if err != nil {
		return fmt.Errorf("storage.MarkItemFailed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.MarkItemFailed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListPendingItems devuelve los items vistos pero no procesados, en orden de detección.
func (s *SQLiteStorage) ListPendingItems(ctx context.Context) ([]domain.Item, error) {
	items, err := s.queryItems(ctx, itemSelect+` WHERE seen = 1 AND processed = 0 ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPendingItems: %w", err)
	}
	return items, nil
}

// ListItems devuelve todos los items en orden de detección.
func (s *SQLiteStorage) ListItems(ctx context.Context) ([]domain.Item, error) {
	items, err := s.queryItems(ctx, itemSelect+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListItems: %w", err)
	}
	return items, nil
}

// --- helpers internos ---

const itemSelect = `
	SELECT id, title, published_at, source_url, detected_at, processed_at,
	       transcript_summary, seen, processed, outcome, attempts, last_error
	FROM items`

func (s *SQLiteStorage) queryItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		var published, processedAt, summary sql.NullString
		var detected, outcome string
		var seen, processed int
		if err := rows.Scan(
			&it.ID, &it.Title, &published, &it.SourceURL, &detected, &processedAt,
			&summary, &seen, &processed, &outcome, &it.Attempts, &it.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.DetectedAt = parseTime(detected)
		if published.Valid {
			it.PublishedAt = parseTime(published.String)
		}
		if processedAt.Valid {
			t := parseTime(processedAt.String)
			it.ProcessedAt = &t
		}
		if summary.Valid {
			v := summary.String
			it.TranscriptSummary = &v
		}
		it.Seen = seen == 1
		it.Processed = processed == 1
		it.Outcome = domain.Outcome(outcome)
		items = append(items, it)
	}
	return items, rows.Err()
}

// PruneSnapshots elimina snapshots anteriores a now-90d, conservando siempre el
// más reciente. Escribe: solo debe llamarlo quien tiene el lock de ejecución.
func (s *SQLiteStorage) PruneSnapshots(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now.UTC().Add(-retentionSnapshots))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM performance_snapshots
		WHERE computed_at < ? AND id <> (SELECT MAX(id) FROM performance_snapshots)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage.PruneSnapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
