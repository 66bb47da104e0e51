package ledger_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alejandrodnm/contrabot/internal/adapters/storage"
	"github.com/alejandrodnm/contrabot/internal/application/ledger"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// tickingClock avanza un segundo por llamada para que cada trade tenga su propio instante.
func tickingClock() func() time.Time {
	now := t0
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newLedger(t *testing.T, conv domain.ReturnConvention) (*ledger.Ledger, *storage.SQLiteStorage) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l := ledger.New(db, ledger.Config{PositionNotional: 10_000_000, Convention: conv}).WithClock(tickingClock())
	return l, db
}

func TestLedger_OpenCloseScenario(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	buy, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, Quantity: 10, ItemID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, buy.Side)
	assert.InDelta(t, 10000.0, buy.Amount, 1e-9)

	positions, err := l.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, buy.ID, positions[0].OpenTradeID)

	sell, err := l.Close(ctx, ledger.CloseRequest{Instrument: "069500", Price: 1100, ItemID: "v2"})
	require.NoError(t, err)
	assert.Equal(t, buy.ID, sell.RelatedBuyID)
	assert.Equal(t, int64(10), sell.Quantity)
	assert.InDelta(t, 1000.0, sell.ProfitLoss, 1e-9)
	assert.InDelta(t, 10.0, sell.ProfitLossRate, 1e-9)
	assert.InDelta(t, 10.0, sell.CumulativeReturn, 1e-9)

	positions, err = l.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	perf, err := l.GetPerformance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.TotalTrades)
	assert.Equal(t, 100.0, perf.WinRate)
	assert.InDelta(t, 10.0, perf.CumulativeReturn, 1e-9)

	require.NoError(t, l.CheckConsistency(ctx))
}

func TestLedger_OpenTwiceLeavesStateUnchanged(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	_, err := l.Open(ctx, ledger.OpenRequest{Instrument: "114800", Price: 5000, ItemID: "v1"})
	require.NoError(t, err)
	before, err := l.ListTrades(ctx, 0)
	require.NoError(t, err)

	_, err = l.Open(ctx, ledger.OpenRequest{Instrument: "114800", Price: 4000, ItemID: "v2"})
	assert.ErrorIs(t, err, domain.ErrAlreadyOpen)

	after, err := l.ListTrades(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	pos, err := l.Position(ctx, "114800")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, pos.AvgPrice)
}

func TestLedger_CloseWhenFlat(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	_, err := l.Close(ctx, ledger.CloseRequest{Instrument: "069500", Price: 1000})
	assert.ErrorIs(t, err, domain.ErrNotOpen)

	trades, err := l.ListTrades(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestLedger_QuantitySizing(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	buy, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 35000})
	require.NoError(t, err)
	assert.Equal(t, int64(285), buy.Quantity)

	small := ledger.New(nil, ledger.Config{PositionNotional: 100})
	_, err = small.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = l.Open(ctx, ledger.OpenRequest{Instrument: "122630", Price: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestLedger_CompoundCumulative(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionCompound)
	ctx := context.Background()

	for _, exit := range []float64{1100, 1100} {
		_, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, Quantity: 1})
		require.NoError(t, err)
		_, err = l.Close(ctx, ledger.CloseRequest{Instrument: "069500", Price: exit})
		require.NoError(t, err)
	}

	trades, err := l.ListTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 21.0, trades[0].CumulativeReturn, 1e-9)
	require.NoError(t, l.CheckConsistency(ctx))
}

func TestLedger_RecomputeIsIdempotent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := ledger.New(db, ledger.Config{PositionNotional: 1_000_000}).WithClock(tickingClock())
	for i, exit := range []float64{1050, 970, 1200} {
		instrument := []string{"069500", "114800", "122630"}[i]
		_, err := l.Open(ctx, ledger.OpenRequest{Instrument: instrument, Price: 1000})
		require.NoError(t, err)
		_, err = l.Close(ctx, ledger.CloseRequest{Instrument: instrument, Price: exit})
		require.NoError(t, err)
	}

	fixed := ledger.New(db, ledger.Config{PositionNotional: 1_000_000}).WithClock(func() time.Time { return t0 })
	first, err := fixed.RecomputeMetrics(ctx)
	require.NoError(t, err)
	second, err := fixed.RecomputeMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, first.TotalTrades)
	assert.Equal(t, 2, first.WinningTrades)

	latest, err := fixed.GetPerformance(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.TotalTrades, latest.TotalTrades)
	assert.InDelta(t, second.CumulativeReturn, latest.CumulativeReturn, 1e-9)
}

func TestLedger_BackdatedTradesStayOrdered(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	buy, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	sell, err := l.Close(ctx, ledger.CloseRequest{Instrument: "069500", Price: 900, At: t0})
	require.NoError(t, err)

	assert.True(t, sell.Timestamp.After(buy.Timestamp))
	require.NoError(t, l.CheckConsistency(ctx))
}

func TestLedger_BackdatedCloseLandsAfterLatestClose(t *testing.T) {
	l, db := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	_, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, At: t0})
	require.NoError(t, err)
	_, err = l.Open(ctx, ledger.OpenRequest{Instrument: "114800", Price: 500, At: t0.Add(time.Minute)})
	require.NoError(t, err)

	closeB, err := l.Close(ctx, ledger.CloseRequest{Instrument: "114800", Price: 550, At: t0.Add(2 * time.Hour)}) // +10%
	require.NoError(t, err)
	// Pedido antes del cierre de 114800: se registra detrás.
	closeA, err := l.Close(ctx, ledger.CloseRequest{Instrument: "069500", Price: 900, At: t0.Add(time.Hour)}) // -10%
	require.NoError(t, err)

	assert.True(t, closeA.Timestamp.After(closeB.Timestamp))
	assert.InDelta(t, 10.0, closeB.CumulativeReturn, 1e-9)
	assert.InDelta(t, 0.0, closeA.CumulativeReturn, 1e-9)

	// Lo guardado coincide con el acumulado recorrido en orden cronológico.
	closed, err := db.ListClosedTrades(ctx)
	require.NoError(t, err)
	domain.SortClosedTrades(closed)
	cum := 0.0
	for _, tr := range closed {
		cum = domain.NextCumulative(cum, tr.ProfitLossRate, domain.ConventionAdditive)
		assert.InDelta(t, cum, tr.CumulativeReturn, 1e-9, tr.Instrument)
	}

	snap, err := l.RecomputeMetrics(ctx)
	require.NoError(t, err)
	assert.InDelta(t, closeA.CumulativeReturn, snap.CumulativeReturn, 1e-9)
	require.NoError(t, l.CheckConsistency(ctx))
}

func TestLedger_TradeForItem(t *testing.T) {
	l, _ := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	_, found, err := l.TradeForItem(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, found)

	buy, err := l.Open(ctx, ledger.OpenRequest{Instrument: "069500", Price: 1000, ItemID: "v1"})
	require.NoError(t, err)

	got, found, err := l.TradeForItem(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, buy.ID, got.ID)
}

func TestLedger_CheckConsistencyDetectsOrphanBuy(t *testing.T) {
	l, db := newLedger(t, domain.ConventionAdditive)
	ctx := context.Background()

	require.NoError(t, db.WithTx(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertTrade(ctx, domain.Trade{
			ID: "orphan", ItemID: "x", Instrument: "069500", Side: domain.SideBuy,
			Timestamp: t0, Quantity: 1, Price: 1000, Amount: 1000,
		})
	}))

	err := l.CheckConsistency(ctx)
	assert.ErrorIs(t, err, domain.ErrLedgerInconsistent)
	assert.True(t, domain.IsLedgerInvariant(err))
}

// Secuencias aleatorias de Open/Close: el ledger debe coincidir siempre con un
// modelo trivial y pasar el chequeo de consistencia.
func TestLedger_RandomSequencesKeepInvariants(t *testing.T) {
	instruments := []string{"069500", "114800", "252670"}

	for seed := int64(1); seed <= 5; seed++ {
		l, _ := newLedger(t, domain.ConventionAdditive)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(seed))
		open := map[string]bool{}
		closes := 0

		for step := 0; step < 40; step++ {
			instrument := instruments[rng.Intn(len(instruments))]
			price := float64(800 + rng.Intn(400))

			if rng.Intn(2) == 0 {
				_, err := l.Open(ctx, ledger.OpenRequest{Instrument: instrument, Price: price})
				if open[instrument] {
					require.ErrorIs(t, err, domain.ErrAlreadyOpen, "seed %d step %d", seed, step)
				} else {
					require.NoError(t, err, "seed %d step %d", seed, step)
					open[instrument] = true
				}
			} else {
				_, err := l.Close(ctx, ledger.CloseRequest{Instrument: instrument, Price: price})
				if open[instrument] {
					require.NoError(t, err, "seed %d step %d", seed, step)
					delete(open, instrument)
					closes++
				} else {
					require.ErrorIs(t, err, domain.ErrNotOpen, "seed %d step %d", seed, step)
				}
			}

			positions, err := l.ListPositions(ctx)
			require.NoError(t, err)
			require.Len(t, positions, len(open))
			for _, p := range positions {
				assert.True(t, open[p.Instrument])
			}
		}

		require.NoError(t, l.CheckConsistency(ctx), "seed %d", seed)

		perf, err := l.RecomputeMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, closes, perf.TotalTrades)
		assert.GreaterOrEqual(t, perf.WinRate, 0.0)
		assert.LessOrEqual(t, perf.WinRate, 100.0)
		assert.GreaterOrEqual(t, perf.MaxDrawdown, 0.0)
		assert.LessOrEqual(t, perf.WinningTrades+perf.LosingTrades, perf.TotalTrades)
	}
}
