package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/contrabot/config"
	"github.com/alejandrodnm/contrabot/internal/adapters/storage"
	"github.com/alejandrodnm/contrabot/internal/application/ledger"
	"github.com/alejandrodnm/contrabot/internal/application/pipeline"
	"github.com/alejandrodnm/contrabot/internal/application/tracker"
	"github.com/alejandrodnm/contrabot/internal/application/transcript"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockFeed struct{ items []domain.Item }

func (m *mockFeed) FetchItems(context.Context) ([]domain.Item, error) { return m.items, nil }

type mockMedia struct {
	size     int64
	duration time.Duration
	fetchErr error
	cleanups atomic.Int32
}

func (m *mockMedia) Fetch(_ context.Context, item domain.Item) (domain.Media, error) {
	if m.fetchErr != nil {
		return domain.Media{}, m.fetchErr
	}
	return domain.Media{Path: item.ID + ".mp3", Size: m.size, Duration: m.duration}, nil
}

func (m *mockMedia) Cut(_ context.Context, media domain.Media, seg domain.Segment) (string, error) {
	return media.Path + "#" + seg.Start.String(), nil
}

func (m *mockMedia) Cleanup(domain.Item) error {
	m.cleanups.Add(1)
	return nil
}

type mockTranscriber struct {
	calls atomic.Int32
	err   error
}

func (m *mockTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return "transcript of " + path, nil
}

type mockExtractor struct {
	mu       sync.Mutex
	payloads map[string]domain.SignalPayload
	err      error
	calls    []string
	// transcripciones completadas cuando se llamó al extractor
	transcribedAt []int32
	transcriber   *mockTranscriber
}

func (m *mockExtractor) Extract(_ context.Context, item domain.Item, _ string) (domain.SignalPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, item.ID)
	m.transcribedAt = append(m.transcribedAt, m.transcriber.calls.Load())
	if m.err != nil {
		return domain.SignalPayload{}, m.err
	}
	return m.payloads[item.ID], nil
}

type mockPrices struct{ prices map[string]float64 }

func (m *mockPrices) Price(_ context.Context, instrument string) (float64, error) {
	if p, ok := m.prices[instrument]; ok {
		return p, nil
	}
	return 1000, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (m *mockNotifier) Notify(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

// --- harness ---

type harness struct {
	db          *storage.SQLiteStorage
	feed        *mockFeed
	media       *mockMedia
	transcriber *mockTranscriber
	extractor   *mockExtractor
	prices      *mockPrices
	notifier    *mockNotifier
	tracker     *tracker.Tracker
	ledger      *ledger.Ledger
	deps        pipeline.Deps
	orch        *pipeline.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:          db,
		feed:        &mockFeed{},
		media:       &mockMedia{size: 1024, duration: 5 * time.Minute},
		transcriber: &mockTranscriber{},
		prices:      &mockPrices{prices: map[string]float64{}},
		notifier:    &mockNotifier{},
	}
	h.extractor = &mockExtractor{payloads: map[string]domain.SignalPayload{}, transcriber: h.transcriber}
	h.tracker = tracker.New(db)
	h.ledger = ledger.New(db, ledger.Config{PositionNotional: 10_000_000})

	h.deps = pipeline.Deps{
		Feed:      h.feed,
		Tracker:   h.tracker,
		Analyses:  db,
		Media:     h.media,
		Assembler: transcript.New(h.media, h.transcriber, transcript.Config{ChunkLen: 10 * time.Minute, Workers: 2, Retry: fast}),
		Extractor: h.extractor,
		Ledger:    h.ledger,
		Prices:    h.prices,
		Notifier:  h.notifier,
	}
	h.orch = pipeline.New(h.deps, pipeline.Config{
		BuyInstrument:  "069500",
		SellInstrument: "069500",
		Tradable:       []string{"069500", "114800", "252670"},
		ExtractRetry:   fast,
	})
	return h
}

var fast = retry.Policy{Attempts: 1, BaseWait: time.Millisecond}

// withShippedConfig usa la sección contrarian de config/config.yaml.
func (h *harness) withShippedConfig(t *testing.T) {
	t.Helper()
	cfg, err := config.Load("../../../config/config.yaml")
	require.NoError(t, err)
	h.orch = pipeline.New(h.deps, pipeline.Config{
		BuyInstrument:  cfg.Contrarian.BuyInstrument,
		SellInstrument: cfg.Contrarian.SellInstrument,
		Tradable:       cfg.Contrarian.Tradable,
		ExtractRetry:   fast,
	})
}

func video(id string) domain.Item {
	return domain.Item{ID: id, Title: "video " + id, SourceURL: "https://www.youtube.com/watch?v=" + id}
}

// seed simula un primer run ya hecho sobre el back-catalog.
func (h *harness) seed(t *testing.T, ids ...string) {
	t.Helper()
	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, video(id))
	}
	_, ok, err := h.tracker.Bootstrap(context.Background(), items)
	require.NoError(t, err)
	require.True(t, ok)
}

func (h *harness) item(t *testing.T, id string) domain.Item {
	t.Helper()
	it, err := h.db.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it
}

// --- tests ---

func TestRun_FirstRunBootstrapsWithoutProcessing(t *testing.T) {
	h := newHarness(t)
	h.feed.items = []domain.Item{video("a"), video("b")}

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Bootstrapped)
	assert.Equal(t, 2, sum.Seeded)
	assert.Empty(t, h.extractor.calls)

	sum, err = h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Bootstrapped)
	assert.Zero(t, sum.Candidates)
}

func TestRun_BearishForecastOpensPosition(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("old"), video("new")}
	h.extractor.payloads["new"] = domain.SignalPayload{Direction: "하락", Confidence: 0.8, Summary: "crash incoming"}
	h.prices.prices["069500"] = 35000

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeProcessed])
	assert.Equal(t, []string{"new"}, h.extractor.calls)

	pos, err := h.ledger.Position(context.Background(), "069500")
	require.NoError(t, err)
	assert.Equal(t, int64(285), pos.Quantity)
	assert.Equal(t, "new", pos.ItemID)

	it := h.item(t, "new")
	assert.True(t, it.Processed)
	assert.Equal(t, domain.OutcomeProcessed, it.Outcome)
	require.NotNil(t, it.TranscriptSummary)
	assert.Equal(t, "crash incoming", *it.TranscriptSummary)

	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	require.NotNil(t, n.Trade)
	assert.Equal(t, domain.SideBuy, n.Trade.Side)
	assert.Len(t, n.Positions, 1)
	assert.EqualValues(t, 1, h.media.cleanups.Load())
}

func TestRun_RecommendedInstrumentOutsideTradableSetFallsBack(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("x")}
	h.extractor.payloads["x"] = domain.SignalPayload{
		Direction:   "DOWN",
		Instruments: []domain.PayloadInstrument{{Code: "999999"}, {Code: "114800"}},
	}

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	positions, err := h.ledger.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "114800", positions[0].Instrument)
}

func TestRun_BullishForecastClosesPosition(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	ctx := context.Background()

	h.prices.prices["069500"] = 1000
	h.feed.items = []domain.Item{video("v1")}
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "DOWN"}
	_, err := h.orch.Run(ctx)
	require.NoError(t, err)

	h.prices.prices["069500"] = 1100
	h.feed.items = []domain.Item{video("v1"), video("v2")}
	h.extractor.payloads["v2"] = domain.SignalPayload{Direction: "UP"}
	sum, err := h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Candidates)

	positions, err := h.ledger.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	perf, err := h.ledger.GetPerformance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.TotalTrades)
	assert.Equal(t, 100.0, perf.WinRate)
	assert.InDelta(t, 10.0, perf.CumulativeReturn, 1e-9)

	require.Len(t, h.notifier.sent, 2)
	sell := h.notifier.sent[1].Trade
	require.NotNil(t, sell)
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.InDelta(t, 10.0, sell.ProfitLossRate, 1e-9)
}

func TestRun_SellClosesLeveragedBuyWithShippedConfig(t *testing.T) {
	h := newHarness(t)
	h.withShippedConfig(t)
	h.seed(t, "old")
	ctx := context.Background()

	// El BUY abre el apalancado que recomienda el extractor; el SELL recomienda
	// inversos, ninguno abierto, y aun así debe cerrar ese BUY.
	h.prices.prices["122630"] = 20000
	h.feed.items = []domain.Item{video("b")}
	h.extractor.payloads["b"] = domain.SignalPayload{
		Direction: "하락", Instruments: []domain.PayloadInstrument{{Code: "122630"}, {Code: "233740"}},
	}
	_, err := h.orch.Run(ctx)
	require.NoError(t, err)
	_, err = h.ledger.Position(ctx, "122630")
	require.NoError(t, err)

	h.prices.prices["122630"] = 22000
	h.feed.items = []domain.Item{video("b"), video("s")}
	h.extractor.payloads["s"] = domain.SignalPayload{
		Direction: "상승", Instruments: []domain.PayloadInstrument{{Code: "114800"}, {Code: "252670"}},
	}
	sum, err := h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeProcessed])

	positions, err := h.ledger.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := h.ledger.ListTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, "122630", trades[0].Instrument)
	assert.InDelta(t, 10.0, trades[0].ProfitLossRate, 1e-9)
}

func TestRun_SellPrefersConfiguredInstrumentWhenOpen(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	ctx := context.Background()

	_, err := h.ledger.Open(ctx, ledger.OpenRequest{Instrument: "252670", Price: 1000, ItemID: "manual-1"})
	require.NoError(t, err)
	_, err = h.ledger.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, ItemID: "manual-2"})
	require.NoError(t, err)

	h.feed.items = []domain.Item{video("s")}
	h.extractor.payloads["s"] = domain.SignalPayload{Direction: "UP"}
	_, err = h.orch.Run(ctx)
	require.NoError(t, err)

	positions, err := h.ledger.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "252670", positions[0].Instrument)
}

func TestRun_SingleItemBeforeFirstRunStillBootstraps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.extractor.payloads["x"] = domain.SignalPayload{Direction: "NEUTRAL"}
	outcome, err := h.orch.ProcessItem(ctx, video("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, outcome)

	h.feed.items = []domain.Item{video("old1"), video("old2"), video("old3")}
	sum, err := h.orch.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Bootstrapped)
	assert.Equal(t, 3, sum.Seeded)
	assert.Zero(t, sum.Candidates)
	assert.Equal(t, []string{"x"}, h.extractor.calls, "back-catalog must not be analyzed")
}

func TestRun_SecondBuySkipped(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("v1"), video("v2")}
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "DOWN"}
	h.extractor.payloads["v2"] = domain.SignalPayload{Direction: "DOWN"}

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeProcessed])
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeSkipped])

	trades, err := h.ledger.ListTrades(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, domain.OutcomeSkipped, h.item(t, "v2").Outcome)
	require.Len(t, h.notifier.sent, 2)
	assert.Contains(t, h.notifier.sent[1].Message, "position already open")
}

func TestRun_SellWithoutPositionAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("v1"), video("v2")}
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "UP"}
	h.extractor.payloads["v2"] = domain.SignalPayload{Direction: "DOWN"}

	sum, err := h.orch.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrNotOpen)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeNotOpen])

	it := h.item(t, "v1")
	assert.True(t, it.Processed, "not retried")
	assert.Equal(t, domain.OutcomeNotOpen, it.Outcome)

	assert.False(t, h.item(t, "v2").Processed, "run stopped before v2")
	assert.Empty(t, h.notifier.sent)
}

func TestRun_HoldRecordsNoTrade(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("v1")}
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "NEUTRAL"}

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeSkipped])

	trades, err := h.ledger.ListTrades(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.True(t, h.item(t, "v1").Processed)
}

func TestRun_TranscriptionFailureDefersAndContinues(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("v1")}
	h.transcriber.err = errors.New("whisper 500")

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeDeferred])
	assert.Empty(t, h.extractor.calls)

	it := h.item(t, "v1")
	assert.True(t, it.Seen)
	assert.False(t, it.Processed)
	assert.Equal(t, 1, it.Attempts)

	// El siguiente run lo reintenta aunque ya no esté en el feed.
	h.transcriber.err = nil
	h.feed.items = nil
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "NEUTRAL"}
	sum, err = h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Candidates)
	assert.True(t, h.item(t, "v1").Processed)
}

func TestRun_ChunkedItemTranscribesAllChunksBeforeExtraction(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.media.size = transcript.MaxSingleShotBytes + 1
	h.media.duration = 40 * time.Minute
	h.feed.items = []domain.Item{video("long")}
	h.extractor.payloads["long"] = domain.SignalPayload{Direction: "NEUTRAL"}

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int32{4}, h.extractor.transcribedAt)
}

func TestRun_ChunkFailureDefersItem(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.media.size = transcript.MaxSingleShotBytes + 1
	h.media.duration = 30 * time.Minute
	h.transcriber.err = errors.New("timeout")
	h.feed.items = []domain.Item{video("long")}

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeDeferred])
	assert.Contains(t, h.item(t, "long").LastError, "chunk transcription failed")
}

func TestRun_NotForecastAndInvalidAreTerminal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("vlog"), video("garbled")}
	h.extractor.payloads["vlog"] = domain.SignalPayload{ContentType: "스킵 대상"}
	h.extractor.payloads["garbled"] = domain.SignalPayload{Direction: "SIDEWAYS"}

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeNotForecast])
	assert.Equal(t, 1, sum.Outcomes[domain.OutcomeInvalid])

	pending, err := h.tracker.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessItem_ReusesStoredAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.tracker.MarkSeen(ctx, video("v1"), false))
	require.NoError(t, h.db.InsertAnalysis(ctx, domain.AnalysisResult{
		ID: "an-1", ItemID: "v1", Direction: domain.DirectionDown, Action: domain.ActionBuy,
		CreatedAt: time.Now().UTC(),
	}))

	outcome, err := h.orch.ProcessItem(ctx, video("v1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, h.extractor.calls)
	assert.Zero(t, h.transcriber.calls.Load())

	trade, found, err := h.ledger.TradeForItem(ctx, "v1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "an-1", trade.AnalysisID)
}

func TestProcessItem_CompletesItemWhoseTradeWasCommitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.tracker.MarkSeen(ctx, video("v1"), false))
	_, err := h.ledger.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, ItemID: "v1"})
	require.NoError(t, err)

	outcome, err := h.orch.ProcessItem(ctx, video("v1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, h.extractor.calls)

	trades, err := h.ledger.ListTrades(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "no duplicate trade")
	assert.True(t, h.item(t, "v1").Processed)
}

func TestProcessItem_AlreadyProcessedIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "v1")

	outcome, err := h.orch.ProcessItem(ctx, video("v1"))
	require.NoError(t, err)
	assert.Empty(t, outcome)
	assert.Empty(t, h.extractor.calls)
}

func TestProcessItem_NotificationFailureDoesNotFailItem(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("telegram down")
	h.extractor.payloads["v1"] = domain.SignalPayload{Direction: "DOWN"}

	outcome, err := h.orch.ProcessItem(context.Background(), video("v1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.True(t, h.item(t, "v1").Processed)
}

func TestRun_CancelledContextStops(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old")
	h.feed.items = []domain.Item{video("v1")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.extractor.calls)
}
