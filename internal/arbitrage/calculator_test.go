package arbitrage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/models"
)

var testNow = time.Unix(1_700_000_000, 0)

func leg(id, exchange string, price, min, max, available float64, payments ...string) models.NormalizedOrder {
	if payments == nil {
		payments = []string{}
	}
	return models.NormalizedOrder{
		ID:              id,
		Exchange:        exchange,
		Price:           price,
		MinAmount:       min,
		MaxAmount:       max,
		AvailableAmount: available,
		PaymentMethods:  payments,
	}
}

func params(tiers ...float64) Params {
	return Params{
		SourceCurrency:       "NGN",
		TargetCurrency:       "CNY",
		IntermediaryCurrency: "USDT",
		Tiers:                tiers,
		MinProfitPct:         DefaultMinProfitPct,
		Now:                  testNow,
	}
}

func TestSameExchangeNeverPairs(t *testing.T) {
	src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 0, 1e6, 1e6)}
	tgt := []models.NormalizedOrder{leg("t1", "bybit", 100, 0, 1e6, 1e6)}

	opps := ComputeOpportunities(params(1000), src, tgt, DefaultDirectRates())
	if len(opps) != 0 {
		t.Fatalf("expected no same-exchange opportunities, got %d", len(opps))
	}
}

func TestUnprofitableRoutesAreFiltered(t *testing.T) {
	tests := []struct {
		name        string
		targetPrice float64
	}{
		{"deep loss", 11},
		{"small loss", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 1000, 10000, 10000)}
			tgt := []models.NormalizedOrder{leg("t1", "Gate", tt.targetPrice, 1000, 10000, 10000)}

			opps := ComputeOpportunities(params(1000), src, tgt, DirectRates{"NGN-CNY": 0.0175})
			if len(opps) != 0 {
				t.Errorf("expected no opportunities, got %+v", opps)
			}
		})
	}
}

func TestProfitableRoute(t *testing.T) {
	src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 1000, 20000, 15000, "Bank", "Opay")}
	tgt := []models.NormalizedOrder{leg("t1", "Gate", 30, 500, 12000, 50000, "Opay", "Alipay")}

	opps := ComputeOpportunities(params(1000, 5000), src, tgt, DirectRates{"NGN-CNY": 0.0175})
	if len(opps) != 2 {
		t.Fatalf("expected one opportunity per tier, got %d", len(opps))
	}

	o := opps[0]
	const eps = 1e-6
	if math.Abs(o.CrossRate-0.02) > eps {
		t.Errorf("cross rate: got %v, want 0.02", o.CrossRate)
	}
	if math.Abs(o.SourceRate-1.0/1500) > eps || math.Abs(o.TargetRate-1.0/30) > eps {
		t.Errorf("leg rates: %v, %v", o.SourceRate, o.TargetRate)
	}
	if math.Abs(o.ProfitMargin-0.0025) > eps {
		t.Errorf("margin: got %v, want 0.0025", o.ProfitMargin)
	}
	if math.Abs(o.ProfitPercentage-14.285714) > eps {
		t.Errorf("profit pct: got %v", o.ProfitPercentage)
	}
	if o.MinAmount != 1000 || o.MaxAmount != 12000 {
		t.Errorf("amount window: %v..%v", o.MinAmount, o.MaxAmount)
	}
	if len(o.PaymentMethods) != 1 || o.PaymentMethods[0] != "Opay" {
		t.Errorf("payment intersection: %v", o.PaymentMethods)
	}
	if o.ID != "s1-t1-1000" || o.Tier != 1000 {
		t.Errorf("unexpected id/tier: %s/%v", o.ID, o.Tier)
	}
	if o.Route != "NGN → USDT (Bybit) → CNY (Gate)" {
		t.Errorf("unexpected route %q", o.Route)
	}
	if o.Timestamp != testNow.UnixMilli() {
		t.Errorf("unexpected timestamp %d", o.Timestamp)
	}
	if opps[1].ID != "s1-t1-5000" {
		t.Errorf("expected equal-profit tiers in tier order, got %s", opps[1].ID)
	}
}

func TestTierEligibility(t *testing.T) {
	// Source only covers up to 4000 available; target min is 2000.
	src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 1000, 20000, 4000)}
	tgt := []models.NormalizedOrder{leg("t1", "Gate", 30, 2000, 20000, 20000)}

	opps := ComputeOpportunities(params(1000, 3000, 5000), src, tgt, DirectRates{"NGN-CNY": 0.0175})
	if len(opps) != 1 || opps[0].Tier != 3000 {
		t.Fatalf("expected only the 3000 tier, got %+v", opps)
	}
}

func TestRankedByProfitDescending(t *testing.T) {
	src := []models.NormalizedOrder{
		leg("s1", "Bybit", 1500, 0, 1e6, 1e6),
		leg("s2", "OKX", 1400, 0, 1e6, 1e6),
	}
	tgt := []models.NormalizedOrder{leg("t1", "Gate", 30, 0, 1e6, 1e6)}

	opps := ComputeOpportunities(params(1000), src, tgt, DirectRates{"NGN-CNY": 0.0175})
	if len(opps) != 2 {
		t.Fatalf("expected 2 opportunities, got %d", len(opps))
	}
	if opps[0].ID != "s2-t1-1000" || opps[0].ProfitPercentage < opps[1].ProfitPercentage {
		t.Errorf("expected cheaper source first, got %s", opps[0].ID)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 0, 1e6, 1e6), leg("s2", "OKX", 1450, 0, 1e6, 1e6)}
	tgt := []models.NormalizedOrder{leg("t1", "Gate", 30, 0, 1e6, 1e6), leg("t2", "Binance", 29, 0, 1e6, 1e6)}

	first := ComputeOpportunities(params(1000, 5000), src, tgt, DefaultDirectRates())
	second := ComputeOpportunities(params(1000, 5000), src, tgt, DefaultDirectRates())

	if len(first) != len(second) || len(first) == 0 {
		t.Fatalf("expected matching non-empty results, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("position %d differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestMissingDirectRate(t *testing.T) {
	src := []models.NormalizedOrder{leg("s1", "Bybit", 1500, 0, 1e6, 1e6)}
	tgt := []models.NormalizedOrder{leg("t1", "Gate", 30, 0, 1e6, 1e6)}

	p := params(1000)
	p.TargetCurrency = "EUR"

	opps := ComputeOpportunities(p, src, tgt, DefaultDirectRates())
	if opps == nil || len(opps) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", opps)
	}
}

func TestDirectRatesLookup(t *testing.T) {
	rates := DirectRates{"NGN-CNY": 0.0175, "BAD-RATE": 0}

	if r, ok := rates.DirectRate("ngn", "cny"); !ok || r != 0.0175 {
		t.Errorf("expected case-insensitive hit, got %v, %v", r, ok)
	}
	if _, ok := rates.DirectRate("CNY", "NGN"); ok {
		t.Error("reverse pair should not be inferred")
	}
	if _, ok := rates.DirectRate("BAD", "RATE"); ok {
		t.Error("non-positive rates should be treated as missing")
	}
}

func TestSummarize(t *testing.T) {
	if s := Summarize(nil); s.Total != 0 || s.Best != nil {
		t.Errorf("unexpected empty stats: %+v", s)
	}

	s := Summarize([]models.ArbitrageOpportunity{
		{ID: "a", ProfitPercentage: 6},
		{ID: "b", ProfitPercentage: 2},
	})
	if s.Total != 2 || s.AverageProfit != 4 || s.Best == nil || s.Best.ID != "a" {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestBestQuote(t *testing.T) {
	srcLeg := &models.AggregatedResult{
		Asset: "USDT",
		Fiat:  "NGN",
		Data:  []models.NormalizedOrder{leg("s1", "Bybit", 1500, 0, 0, 0), leg("s2", "Bybit", 1510, 0, 0, 0)},
	}
	tgtLeg := &models.AggregatedResult{
		Asset: "USDT",
		Fiat:  "CNY",
		Data:  []models.NormalizedOrder{leg("t1", "Gate", 7.5, 0, 0, 0)},
	}

	snap, err := BestQuote(srcLeg, tgtLeg, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(snap.Rate-7.5/1500) > 1e-12 {
		t.Errorf("unexpected rate %v", snap.Rate)
	}
	if snap.SourceExchange != "Bybit" || snap.TargetExchange != "Gate" || snap.Intermediary != "USDT" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	empty := &models.AggregatedResult{Data: []models.NormalizedOrder{}}
	if _, err := BestQuote(empty, tgtLeg, testNow); !errors.Is(err, ErrNoQuote) {
		t.Errorf("expected ErrNoQuote, got %v", err)
	}
}

type fakeSource struct {
	legs    map[models.Side]*models.AggregatedResult
	queries []aggregator.Query
}

func (f *fakeSource) Aggregate(_ context.Context, q aggregator.Query) (*models.AggregatedResult, error) {
	f.queries = append(f.queries, q)
	return f.legs[q.Side], nil
}

func TestCalculatorOpportunities(t *testing.T) {
	source := &fakeSource{legs: map[models.Side]*models.AggregatedResult{
		models.SideBuy: {
			Data:        []models.NormalizedOrder{leg("s1", "Bybit", 1500, 0, 1e6, 1e6)},
			PerExchange: map[string]models.ExchangeStatus{"Bybit": {Success: true, Count: 1}},
		},
		models.SideSell: {
			Data:        []models.NormalizedOrder{leg("t1", "Gate", 30, 0, 1e6, 1e6)},
			PerExchange: map[string]models.ExchangeStatus{"Gate": {Success: true, Count: 1}},
		},
	}}

	calc := NewCalculator(source, Config{
		Tiers:        []float64{1000},
		MinProfitPct: DefaultMinProfitPct,
		Rates:        DirectRates{"NGN-CNY": 0.0175},
		Now:          func() time.Time { return testNow },
	})

	report, err := calc.Opportunities(context.Background(), "ngn", "cny", "usdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(source.queries) != 2 {
		t.Fatalf("expected two leg queries, got %d", len(source.queries))
	}
	if q := source.queries[0]; q.Fiat != "NGN" || q.Side != models.SideBuy || q.Asset != "USDT" {
		t.Errorf("unexpected source leg query: %+v", q)
	}
	if q := source.queries[1]; q.Fiat != "CNY" || q.Side != models.SideSell {
		t.Errorf("unexpected target leg query: %+v", q)
	}

	if report.Stats.Total != 1 || len(report.Opportunities) != 1 {
		t.Errorf("expected one opportunity, got %+v", report.Stats)
	}
	if _, ok := report.SourceLeg["Bybit"]; !ok {
		t.Error("expected source leg health in report")
	}
	if !report.ComputedAt.Equal(testNow) {
		t.Errorf("unexpected computed_at %v", report.ComputedAt)
	}
}

func TestCalculatorRejectsInvalidRoutes(t *testing.T) {
	calc := NewCalculator(&fakeSource{}, Config{})

	if _, err := calc.Opportunities(context.Background(), "NGN", "ngn", "USDT"); !errors.Is(err, aggregator.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for identical fiats, got %v", err)
	}
	if _, err := calc.Opportunities(context.Background(), "NGN", "CNY", ""); !errors.Is(err, aggregator.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for missing intermediary, got %v", err)
	}
}
