package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/contrabot/config"
	"github.com/alejandrodnm/contrabot/internal/adapters/artifacts"
	"github.com/alejandrodnm/contrabot/internal/adapters/feed"
	"github.com/alejandrodnm/contrabot/internal/adapters/lock"
	"github.com/alejandrodnm/contrabot/internal/adapters/media"
	"github.com/alejandrodnm/contrabot/internal/adapters/notify"
	"github.com/alejandrodnm/contrabot/internal/adapters/openai"
	"github.com/alejandrodnm/contrabot/internal/adapters/prices"
	"github.com/alejandrodnm/contrabot/internal/adapters/storage"
	"github.com/alejandrodnm/contrabot/internal/application/ledger"
	"github.com/alejandrodnm/contrabot/internal/application/pipeline"
	"github.com/alejandrodnm/contrabot/internal/application/tracker"
	"github.com/alejandrodnm/contrabot/internal/application/transcript"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
	"github.com/alejandrodnm/contrabot/internal/retry"
)

// app agrupa el store y los servicios construidos a partir de la config.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	ledger  *ledger.Ledger
	tracker *tracker.Tracker
	lock    *lock.RunLock
}

// openApp abre la base de datos. Solo con exclusive se escribe: toma el lock de
// ejecución, verifica la consistencia del ledger y poda snapshots antiguos.
func openApp(ctx context.Context, cfg *config.Config, exclusive bool) (*app, error) {
	a := &app{cfg: cfg}
	if exclusive {
		l, err := lock.Acquire(cfg.LockPath())
		if err != nil {
			return nil, err
		}
		a.lock = l
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.tracker = tracker.New(store)
	a.ledger = ledger.New(store, ledger.Config{
		PositionNotional: cfg.Ledger.PositionNotional,
		Convention:       domain.ReturnConvention(cfg.Ledger.ReturnConvention),
	})

	if exclusive {
		if err := a.ledger.CheckConsistency(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if n, err := store.PruneSnapshots(ctx, time.Now()); err != nil {
			slog.Warn("failed to prune snapshots", "err", err)
		} else if n > 0 {
			slog.Debug("old snapshots pruned", "count", n)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close storage", "err", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			slog.Warn("failed to release run lock", "err", err)
		}
	}
}

type pipelineOptions struct {
	noNotify bool
	price    float64
}

// orchestrator construye el pipeline completo con los adapters reales.
func (a *app) orchestrator(opts pipelineOptions) *pipeline.Orchestrator {
	cfg := a.cfg
	policy := retry.Policy{
		Attempts: cfg.Pipeline.RetryAttempts,
		BaseWait: cfg.RetryBase(),
		Timeout:  cfg.CallTimeout(),
	}

	client := openai.NewClient(openai.Config{
		BaseURL:         cfg.OpenAI.BaseURL,
		APIKey:          cfg.OpenAI.APIKey,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		AnalysisModel:   cfg.OpenAI.AnalysisModel,
		Language:        cfg.OpenAI.Language,
		RatePerSec:      cfg.OpenAI.RPS,
		Timeout:         cfg.CallTimeout(),
	})

	mediaSrc := media.NewExec(media.Config{WorkDir: filepath.Join(cfg.Storage.WorkDir, "contrabot")})

	var priceSrc ports.PriceProvider
	static := prices.NewStatic(cfg.Prices.Quotes, cfg.Prices.Default)
	switch {
	case opts.price > 0:
		priceSrc = static.WithOverride(opts.price)
	case cfg.Prices.Source == "static":
		priceSrc = static
	default:
		priceSrc = prices.Fallback{
			Primary: prices.NewDailyClose(prices.DailyConfig{
				BaseURL:    cfg.Prices.BaseURL,
				Suffix:     cfg.Prices.SymbolSuffix,
				RatePerSec: cfg.Prices.RPS,
				Retry:      policy,
			}),
			Secondary: static,
		}
	}

	var notifier ports.Notifier
	if !opts.noNotify {
		multi := notify.Multi{notify.NewConsole()}
		if cfg.Telegram.Enabled {
			multi = append(multi, notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChannelID))
		}
		notifier = multi
	}

	deps := pipeline.Deps{
		Feed:     feed.NewYouTube(cfg.Feed.ChannelID, cfg.FeedURL()),
		Tracker:  a.tracker,
		Analyses: a.store,
		Media:    mediaSrc,
		Assembler: transcript.New(mediaSrc, openai.NewTranscriber(client), transcript.Config{
			ChunkLen:  cfg.ChunkLen(),
			Workers:   cfg.Pipeline.ChunkWorkers,
			Separator: cfg.Pipeline.Separator,
			Retry:     policy,
		}),
		Extractor: openai.NewExtractor(client),
		Ledger:    a.ledger,
		Prices:    priceSrc,
		Notifier:  notifier,
		Artifacts: artifacts.NewFiles(cfg.Storage.ArtifactsDir),
	}
	return pipeline.New(deps, pipeline.Config{
		BuyInstrument:      cfg.Contrarian.BuyInstrument,
		SellInstrument:     cfg.Contrarian.SellInstrument,
		Tradable:           cfg.Contrarian.Tradable,
		AllowReanalysis:    cfg.Pipeline.AllowReanalysis,
		AllowDuplicateMark: cfg.Pipeline.AllowDuplicateMark,
		ExtractRetry:       policy,
	})
}

// exportHistory reescribe el documento JSON del historial de items.
func (a *app) exportHistory(ctx context.Context) error {
	path := a.cfg.Storage.HistoryFile
	if path == "" {
		return nil
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("exportHistory: create %q: %w", tmp, err)
	}
	if err := a.tracker.ExportHistory(ctx, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("exportHistory: close: %w", err)
	}
	return os.Rename(tmp, path)
}
