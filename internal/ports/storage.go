package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// ItemStore persiste items y sus dos flags de deduplicación.
type ItemStore interface {
	CountItems(ctx context.Context) (int, error)
	// IsBootstrapped: el feed ya se sembró (SeedItems) alguna vez.
	IsBootstrapped(ctx context.Context) (bool, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	// InsertItem falla con domain.ErrDuplicateItem si el id ya existe.
	InsertItem(ctx context.Context, item domain.Item) error
	UpdateItemMetadata(ctx context.Context, item domain.Item) error
	SeedItems(ctx context.Context, items []domain.Item, at time.Time) (int, error)
	MarkItemProcessed(ctx context.Context, id string, outcome domain.Outcome, summary *string, at time.Time) error
	MarkItemFailed(ctx context.Context, id string, reason string) error
	ListPendingItems(ctx context.Context) ([]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
}

// AnalysisStore persists immutable analysis results.
type AnalysisStore interface {
	InsertAnalysis(ctx context.Context, a domain.AnalysisResult) error
	LatestAnalysis(ctx context.Context, itemID string) (domain.AnalysisResult, error)
	CountAnalyses(ctx context.Context, itemID string) (int, error)
}

// LedgerStore runs ledger reads and writes. Writes only happen inside WithTx.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
	LedgerReader
}

// LedgerReader is the read side shared by the store and its transactions.
type LedgerReader interface {
	GetPosition(ctx context.Context, instrument string) (domain.Position, error)
	ListPositions(ctx context.Context) ([]domain.Position, error)
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ListTrades(ctx context.Context, limit int) ([]domain.Trade, error)
	ListClosedTrades(ctx context.Context) ([]domain.Trade, error)
	ListAllTrades(ctx context.Context) ([]domain.Trade, error)
	TradeForItem(ctx context.Context, itemID string) (domain.Trade, error)
	LatestTrade(ctx context.Context, instrument string) (domain.Trade, error)
	LatestSnapshot(ctx context.Context) (domain.PerformanceSnapshot, error)
}

// LedgerTx is one atomic unit: trade + position + snapshot changes apply together or not at all.
type LedgerTx interface {
	LedgerReader
	InsertTrade(ctx context.Context, t domain.Trade) error
	InsertPosition(ctx context.Context, p domain.Position) error
	DeletePosition(ctx context.Context, instrument string) error
	SaveSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error
}
