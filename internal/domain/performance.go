package domain

import (
	"math"
	"sort"
	"time"
)

// ReturnConvention decides how per-trade returns aggregate into the cumulative return.
type ReturnConvention string

const (
	// ConventionAdditive: cumulative = Σ rate_i
	ConventionAdditive ReturnConvention = "additive"
	// ConventionCompound: cumulative = (Π (1 + rate_i/100) − 1) × 100
	ConventionCompound ReturnConvention = "compound"
)

// Valid reports whether c is a known convention.
func (c ReturnConvention) Valid() bool {
	return c == ConventionAdditive || c == ConventionCompound
}

// PerformanceSnapshot is always fully recomputed from the trade history.
type PerformanceSnapshot struct {
	ComputedAt         time.Time
	Convention         ReturnConvention
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64  // %
	CumulativeReturn   float64  // %
	AvgReturn          float64  // % per closed trade
	MaxDrawdown        float64  // percentage points of the cumulative series, also under compound
	RiskAdjustedReturn *float64 // nil with fewer than 2 trades or zero variance
}

// CumulativeReturns devuelve la serie acumulada tras cada cierre, en orden.
func CumulativeReturns(rates []float64, conv ReturnConvention) []float64 {
	series := make([]float64, len(rates))
	sum := 0.0
	growth := 1.0
	for i, r := range rates {
		if conv == ConventionCompound {
			growth *= 1 + r/100
			series[i] = (growth - 1) * 100
			continue
		}
		sum += r
		series[i] = sum
	}
	return series
}

// NextCumulative extends a cumulative value with one more realized rate.
func NextCumulative(prev, rate float64, conv ReturnConvention) float64 {
	if conv == ConventionCompound {
		return ((1+prev/100)*(1+rate/100) - 1) * 100
	}
	return prev + rate
}

// SortClosedTrades ordena cierres por timestamp y, en empate, por ID (ULID monotónico).
func SortClosedTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].Timestamp.Before(trades[j].Timestamp)
		}
		return trades[i].ID < trades[j].ID
	})
}

// ComputePerformance computes the snapshot from the closed (SELL) trades.
// Non-SELL trades in the input are ignored. The input slice is not modified.
func ComputePerformance(trades []Trade, conv ReturnConvention, at time.Time) PerformanceSnapshot {
	snap := PerformanceSnapshot{ComputedAt: at, Convention: conv}

	closed := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if t.IsClose() {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return snap
	}
	SortClosedTrades(closed)

	rates := make([]float64, len(closed))
	sumRates := 0.0
	for i, t := range closed {
		rates[i] = t.ProfitLossRate
		sumRates += t.ProfitLossRate
		switch {
		case t.ProfitLoss > 0:
			snap.WinningTrades++
		case t.ProfitLoss < 0:
			snap.LosingTrades++
		}
	}

	n := len(closed)
	snap.TotalTrades = n
	snap.WinRate = float64(snap.WinningTrades) / float64(n) * 100
	snap.AvgReturn = sumRates / float64(n)

	series := CumulativeReturns(rates, conv)
	snap.CumulativeReturn = series[n-1]
	snap.MaxDrawdown = MaxDrawdown(series)
	snap.RiskAdjustedReturn = RiskAdjusted(rates)
	return snap
}

// MaxDrawdown is the largest peak-to-trough decline of the series, starting from a 0 baseline.
func MaxDrawdown(series []float64) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// RiskAdjusted returns mean/stdev (sample) of the rates, or nil when undefined.
func RiskAdjusted(rates []float64) *float64 {
	n := len(rates)
	if n < 2 {
		return nil
	}
	mean := 0.0
	for _, r := range rates {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range rates {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n - 1)
	stdev := math.Sqrt(variance)
	if stdev == 0 || math.IsNaN(stdev) {
		return nil
	}
	v := mean / stdev
	return &v
}
