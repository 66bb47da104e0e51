// Package pipeline drives each feed item through dedup, transcription, signal
// extraction and the ledger, one item at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/contrabot/internal/application/ledger"
	"github.com/alejandrodnm/contrabot/internal/application/signal"
	"github.com/alejandrodnm/contrabot/internal/application/tracker"
	"github.com/alejandrodnm/contrabot/internal/application/transcript"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
	"github.com/alejandrodnm/contrabot/internal/retry"
)

// Config es la política contrarian y de reintentos del orquestador.
type Config struct {
	BuyInstrument      string   // fallback para BUY
	SellInstrument     string   // fallback para SELL
	Tradable           []string // vacío = cualquier código recomendado
	AllowReanalysis    bool     // ignora análisis previos del item al reintentar
	AllowDuplicateMark bool     // MarkSeen con override
	ExtractRetry       retry.Policy
}

// Deps son los colaboradores del orquestador. Notifier y Artifacts son opcionales.
type Deps struct {
	Feed      ports.FeedProvider
	Tracker   *tracker.Tracker
	Analyses  ports.AnalysisStore
	Media     ports.MediaSource
	Assembler *transcript.Assembler
	Extractor ports.SignalExtractor
	Ledger    *ledger.Ledger
	Prices    ports.PriceProvider
	Notifier  ports.Notifier
	Artifacts ports.ArtifactStore
}

// Summary describes one run.
type Summary struct {
	Fetched      int
	Bootstrapped bool
	Seeded       int
	Candidates   int
	Outcomes     map[domain.Outcome]int
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used to stamp analyses.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run fetches the feed and processes every new or pending item sequentially.
// On an empty store the visible items are seeded as already processed and nothing
// else happens. Ledger invariant violations and persistence failures abort the run.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{Outcomes: make(map[domain.Outcome]int)}

	items, err := o.deps.Feed.FetchItems(ctx)
	if err != nil {
		return sum, fmt.Errorf("pipeline.Run: fetch feed: %w", err)
	}
	sum.Fetched = len(items)

	seeded, bootstrapped, err := o.deps.Tracker.Bootstrap(ctx, items)
	if err != nil {
		return sum, fmt.Errorf("pipeline.Run: %w", err)
	}
	if bootstrapped {
		sum.Bootstrapped, sum.Seeded = true, seeded
		return sum, nil
	}

	candidates, err := o.candidates(ctx, items)
	if err != nil {
		return sum, fmt.Errorf("pipeline.Run: %w", err)
	}
	sum.Candidates = len(candidates)
	if len(candidates) == 0 {
		slog.Info("no new items")
		return sum, nil
	}
	slog.Info("items to process", "count", len(candidates))

	for _, item := range candidates {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("pipeline.Run: %w", err)
		}
		outcome, err := o.ProcessItem(ctx, item)
		if outcome != "" {
			sum.Outcomes[outcome]++
		}
		if err != nil {
			return sum, fmt.Errorf("pipeline.Run: item %s: %w", item.ID, err)
		}
	}
	return sum, nil
}

// candidates: primero los pendientes de runs anteriores (orden de detección),
// después los no vistos en orden del feed.
func (o *Orchestrator) candidates(ctx context.Context, feed []domain.Item) ([]domain.Item, error) {
	pending, err := o.deps.Tracker.Pending(ctx)
	if err != nil {
		return nil, err
	}
	queued := make(map[string]bool, len(pending))
	out := make([]domain.Item, 0, len(pending)+len(feed))
	for _, it := range pending {
		queued[it.ID] = true
		out = append(out, it)
	}
	for _, it := range feed {
		if queued[it.ID] {
			continue
		}
		seen, err := o.deps.Tracker.HasSeen(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		if seen {
			continue
		}
		queued[it.ID] = true
		out = append(out, it)
	}
	return out, nil
}

// ProcessItem runs one item through every stage. A returned error means the run
// must stop; stage failures are reported as OutcomeDeferred with a nil error.
func (o *Orchestrator) ProcessItem(ctx context.Context, item domain.Item) (domain.Outcome, error) {
	log := slog.With("item_id", item.ID)

	known, err := o.deps.Tracker.HasSeen(ctx, item.ID)
	if err != nil {
		return "", err
	}
	if !known {
		if err := o.deps.Tracker.MarkSeen(ctx, item, o.cfg.AllowDuplicateMark); err != nil {
			return "", err
		}
	} else if done, err := o.deps.Tracker.IsProcessed(ctx, item.ID); err != nil {
		return "", err
	} else if done {
		log.Info("item already processed")
		return "", nil
	}

	// Crash entre el commit del ledger y el flag processed: el trade ya existe.
	if trade, found, err := o.deps.Ledger.TradeForItem(ctx, item.ID); err != nil {
		return "", err
	} else if found {
		log.Warn("trade already recorded for item, completing", "trade_id", trade.ID)
		return domain.OutcomeProcessed, o.deps.Tracker.MarkProcessed(ctx, item.ID, domain.OutcomeProcessed, nil)
	}

	analysis, outcome, err := o.analyze(ctx, item)
	if err != nil || outcome != "" {
		return outcome, err
	}

	n := domain.Notification{Item: item, Analysis: &analysis}
	outcome, err = o.trade(ctx, analysis, &n)
	if err != nil || outcome == domain.OutcomeDeferred {
		return outcome, err
	}

	summary := analysis.Summary
	if err := o.deps.Tracker.MarkProcessed(ctx, item.ID, outcome, &summary); err != nil {
		return outcome, err
	}
	log.Info("item processed", "outcome", outcome, "direction", analysis.Direction, "action", analysis.Action)

	n.Outcome = outcome
	o.notify(ctx, n)
	return outcome, nil
}

// analyze devuelve el análisis del item. Un outcome no vacío significa que el item
// terminó (o se difirió) aquí.
func (o *Orchestrator) analyze(ctx context.Context, item domain.Item) (domain.AnalysisResult, domain.Outcome, error) {
	log := slog.With("item_id", item.ID)

	if !o.cfg.AllowReanalysis {
		prev, err := o.deps.Analyses.LatestAnalysis(ctx, item.ID)
		if err == nil {
			log.Info("reusing stored analysis", "analysis_id", prev.ID)
			return prev, "", nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.AnalysisResult{}, "", err
		}
	}

	text, err := o.transcribe(ctx, item)
	if err != nil {
		outcome, err := o.deferItem(ctx, item, "transcribe", err)
		return domain.AnalysisResult{}, outcome, err
	}
	o.saveArtifact(item, "transcript", func(ctx context.Context) error {
		return o.deps.Artifacts.SaveTranscript(ctx, item, text)
	})

	var payload domain.SignalPayload
	err = retry.Do(ctx, o.cfg.ExtractRetry, "extract signal", func(ctx context.Context) error {
		p, err := o.deps.Extractor.Extract(ctx, item, text)
		payload = p
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidSignal) {
		outcome, err := o.deferItem(ctx, item, "extract", err)
		return domain.AnalysisResult{}, outcome, err
	}

	// Un payload que el extractor ya no pudo parsear llega como ErrInvalidSignal.
	var res domain.AnalysisResult
	if err == nil {
		res, err = signal.Normalize(payload)
	}
	switch {
	case errors.Is(err, domain.ErrNotForecast):
		log.Info("content is not a forecast, skipping")
		return domain.AnalysisResult{}, domain.OutcomeNotForecast,
			o.deps.Tracker.MarkProcessed(ctx, item.ID, domain.OutcomeNotForecast, nil)
	case errors.Is(err, domain.ErrInvalidSignal):
		log.Warn("invalid signal, item will not be retried", "err", err)
		return domain.AnalysisResult{}, domain.OutcomeInvalid,
			o.deps.Tracker.MarkProcessed(ctx, item.ID, domain.OutcomeInvalid, nil)
	case err != nil:
		return domain.AnalysisResult{}, "", err
	}
	if res.ConfidenceClamped {
		log.Warn("confidence out of range, clamped", "confidence", res.Confidence)
	}

	res.ID = uuid.NewString()
	res.ItemID = item.ID
	res.CreatedAt = o.now()
	if err := o.deps.Analyses.InsertAnalysis(ctx, res); err != nil {
		return domain.AnalysisResult{}, "", err
	}
	o.saveArtifact(item, "analysis", func(ctx context.Context) error {
		return o.deps.Artifacts.SaveAnalysis(ctx, item, res)
	})
	return res, "", nil
}

func (o *Orchestrator) transcribe(ctx context.Context, item domain.Item) (string, error) {
	media, err := o.deps.Media.Fetch(ctx, item)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer func() {
		if err := o.deps.Media.Cleanup(item); err != nil {
			slog.Warn("media cleanup failed", "item_id", item.ID, "err", err)
		}
	}()

	tr, err := o.deps.Assembler.Assemble(ctx, media)
	if err != nil {
		return "", err
	}
	slog.Info("transcript ready", "item_id", item.ID, "strategy", tr.Strategy, "chunks", tr.Chunks, "chars", len(tr.Text))
	return tr.Text, nil
}

// trade aplica la intención contrarian al ledger y completa la notificación.
func (o *Orchestrator) trade(ctx context.Context, a domain.AnalysisResult, n *domain.Notification) (domain.Outcome, error) {
	log := slog.With("item_id", a.ItemID)

	switch a.Action {
	case domain.ActionBuy:
		instrument := o.buyInstrument(a)
		if _, err := o.deps.Ledger.Position(ctx, instrument); err == nil {
			log.Info("position already open", "instrument", instrument)
			n.Message = "position already open: " + instrument
			return domain.OutcomeSkipped, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		price, err := o.deps.Prices.Price(ctx, instrument)
		if err != nil {
			return o.deferItem(ctx, n.Item, "price", err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		t, err := o.deps.Ledger.Open(ctx, ledger.OpenRequest{
			Instrument: instrument, Price: price, ItemID: a.ItemID, AnalysisID: a.ID, Note: a.Summary,
		})
		if errors.Is(err, domain.ErrInvalidQuantity) {
			log.Warn("cannot size position", "instrument", instrument, "price", price, "err", err)
			n.Message = err.Error()
			return domain.OutcomeInvalid, nil
		}
		if err != nil {
			return "", err
		}
		n.Trade = &t

	case domain.ActionSell:
		instrument, err := o.sellInstrument(ctx, a)
		if err != nil {
			return "", err
		}
		price, err := o.deps.Prices.Price(ctx, instrument)
		if err != nil {
			return o.deferItem(ctx, n.Item, "price", err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		t, err := o.deps.Ledger.Close(ctx, ledger.CloseRequest{
			Instrument: instrument, Price: price, ItemID: a.ItemID, AnalysisID: a.ID, Note: a.Summary,
		})
		if errors.Is(err, domain.ErrNotOpen) {
			log.Error("sell signal without open position", "instrument", instrument)
			if markErr := o.deps.Tracker.MarkProcessed(ctx, a.ItemID, domain.OutcomeNotOpen, nil); markErr != nil {
				return domain.OutcomeNotOpen, errors.Join(err, markErr)
			}
			return domain.OutcomeNotOpen, err
		}
		if err != nil {
			return "", err
		}
		n.Trade = &t

	default:
		n.Message = "hold"
		return domain.OutcomeSkipped, nil
	}

	o.attachLedgerState(ctx, n)
	return domain.OutcomeProcessed, nil
}

func (o *Orchestrator) buyInstrument(a domain.AnalysisResult) string {
	for _, code := range a.InstrumentCodes() {
		if len(o.cfg.Tradable) == 0 || slices.Contains(o.cfg.Tradable, code) {
			return code
		}
	}
	return o.cfg.BuyInstrument
}

// sellInstrument elige qué posición cierra un SELL: la primera recomendada que
// esté abierta; si no, sell_instrument si está abierto; si no, la posición
// abierta más antigua (el BUY que este SELL deshace, aunque el extractor
// recomiende otro código). Sin posiciones devuelve sell_instrument y el ledger
// responde ErrNotOpen.
func (o *Orchestrator) sellInstrument(ctx context.Context, a domain.AnalysisResult) (string, error) {
	for _, code := range a.InstrumentCodes() {
		_, err := o.deps.Ledger.Position(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	open, err := o.deps.Ledger.ListPositions(ctx)
	if err != nil {
		return "", err
	}
	if len(open) == 0 || slices.ContainsFunc(open, func(p domain.Position) bool {
		return p.Instrument == o.cfg.SellInstrument
	}) {
		return o.cfg.SellInstrument, nil
	}
	return open[0].Instrument, nil
}

// attachLedgerState añade posiciones y métricas a la notificación; un fallo de
// lectura aquí solo empobrece el mensaje.
func (o *Orchestrator) attachLedgerState(ctx context.Context, n *domain.Notification) {
	if ps, err := o.deps.Ledger.ListPositions(ctx); err == nil {
		n.Positions = ps
	} else {
		slog.Warn("list positions for notification", "err", err)
	}
	if perf, err := o.deps.Ledger.GetPerformance(ctx); err == nil {
		n.Performance = &perf
	} else {
		slog.Warn("performance for notification", "err", err)
	}
}

// deferItem deja el item pendiente para el próximo run. Una cancelación sí detiene el run.
func (o *Orchestrator) deferItem(ctx context.Context, item domain.Item, stage string, cause error) (domain.Outcome, error) {
	if err := o.deps.Tracker.MarkFailed(context.WithoutCancel(ctx), item.ID, fmt.Errorf("%s: %w", stage, cause)); err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return domain.OutcomeDeferred, ctx.Err()
	}
	slog.Warn("item deferred to next run", "item_id", item.ID, "stage", stage, "err", cause)
	return domain.OutcomeDeferred, nil
}

func (o *Orchestrator) notify(ctx context.Context, n domain.Notification) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.Notify(ctx, n); err != nil {
		slog.Warn("notification failed", "item_id", n.Item.ID, "err", err)
	}
}

func (o *Orchestrator) saveArtifact(item domain.Item, kind string, save func(ctx context.Context) error) {
	if o.deps.Artifacts == nil {
		return
	}
	if err := save(context.Background()); err != nil {
		slog.Warn("saving artifact failed", "item_id", item.ID, "kind", kind, "err", err)
	}
}
