package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/models"
)

var ErrNoQuote = errors.New("no quote available")

// OrderSource is the slice of the aggregator the calculator needs.
type OrderSource interface {
	Aggregate(ctx context.Context, q aggregator.Query) (*models.AggregatedResult, error)
}

type Config struct {
	Tiers        []float64
	MinProfitPct float64
	Rates        RateLookup
	Now          func() time.Time
}

type Calculator struct {
	source    OrderSource
	rates     RateLookup
	tiers     []float64
	minProfit float64
	now       func() time.Time
}

func NewCalculator(source OrderSource, cfg Config) *Calculator {
	c := &Calculator{
		source:    source,
		rates:     cfg.Rates,
		tiers:     slices.Clone(cfg.Tiers),
		minProfit: cfg.MinProfitPct,
		now:       cfg.Now,
	}
	if len(c.tiers) == 0 {
		c.tiers = slices.Clone(DefaultTiers)
	}
	if c.rates == nil {
		c.rates = DefaultDirectRates()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type Stats struct {
	Total         int                          `json:"total_opportunities"`
	AverageProfit float64                      `json:"average_profit"`
	Best          *models.ArbitrageOpportunity `json:"best_opportunity"`
}

// Report is one computation together with the health of both legs, so a
// caller can tell "no opportunities" from "partial data".
type Report struct {
	Source        string                           `json:"source"`
	Target        string                           `json:"target"`
	Intermediary  string                           `json:"intermediary"`
	Opportunities []models.ArbitrageOpportunity    `json:"opportunities"`
	SourceLeg     map[string]models.ExchangeStatus `json:"source_leg"`
	TargetLeg     map[string]models.ExchangeStatus `json:"target_leg"`
	Stats         Stats                            `json:"stats"`
	ComputedAt    time.Time                        `json:"computed_at"`
}

// Legs fetches both sides of a route. The source leg buys the intermediary
// with source fiat; the target leg sells it for target fiat.
func (c *Calculator) Legs(ctx context.Context, source, target, intermediary string) (*models.AggregatedResult, *models.AggregatedResult, error) {
	srcLeg, err := c.source.Aggregate(ctx, aggregator.Query{Asset: intermediary, Fiat: source, Side: models.SideBuy})
	if err != nil {
		return nil, nil, fmt.Errorf("source leg %s/%s: %w", intermediary, source, err)
	}

	tgtLeg, err := c.source.Aggregate(ctx, aggregator.Query{Asset: intermediary, Fiat: target, Side: models.SideSell})
	if err != nil {
		return nil, nil, fmt.Errorf("target leg %s/%s: %w", intermediary, target, err)
	}
	return srcLeg, tgtLeg, nil
}

func (c *Calculator) Opportunities(ctx context.Context, source, target, intermediary string) (*Report, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	target = strings.ToUpper(strings.TrimSpace(target))
	intermediary = strings.ToUpper(strings.TrimSpace(intermediary))

	if source == "" || target == "" || intermediary == "" {
		return nil, fmt.Errorf("%w: source, target and intermediary are required", aggregator.ErrInvalidQuery)
	}
	if source == target {
		return nil, fmt.Errorf("%w: source and target must differ", aggregator.ErrInvalidQuery)
	}

	srcLeg, tgtLeg, err := c.Legs(ctx, source, target, intermediary)
	if err != nil {
		return nil, err
	}

	now := c.now()
	opps := ComputeOpportunities(Params{
		SourceCurrency:       source,
		TargetCurrency:       target,
		IntermediaryCurrency: intermediary,
		Tiers:                c.tiers,
		MinProfitPct:         c.minProfit,
		Now:                  now,
	}, srcLeg.Data, tgtLeg.Data, c.rates)

	log.Info().
		Str("source", source).
		Str("target", target).
		Str("intermediary", intermediary).
		Int("source_orders", len(srcLeg.Data)).
		Int("target_orders", len(tgtLeg.Data)).
		Int("opportunities", len(opps)).
		Msg("opportunities computed")

	return &Report{
		Source:        source,
		Target:        target,
		Intermediary:  intermediary,
		Opportunities: opps,
		SourceLeg:     srcLeg.PerExchange,
		TargetLeg:     tgtLeg.PerExchange,
		Stats:         Summarize(opps),
		ComputedAt:    now,
	}, nil
}

func Summarize(opps []models.ArbitrageOpportunity) Stats {
	s := Stats{Total: len(opps)}
	if len(opps) == 0 {
		return s
	}

	total := 0.0
	for _, o := range opps {
		total += o.ProfitPercentage
	}
	s.AverageProfit = total / float64(len(opps))

	// Opportunities arrive ranked, richest first.
	best := opps[0]
	s.Best = &best
	return s
}

// BestQuote reads top-of-book from two aggregated legs. The source leg is a
// BUY (cheapest first) and the target leg a SELL (richest first), so index 0
// is the best price on both.
func BestQuote(sourceLeg, targetLeg *models.AggregatedResult, at time.Time) (models.RateSnapshot, error) {
	if sourceLeg == nil || len(sourceLeg.Data) == 0 {
		return models.RateSnapshot{}, fmt.Errorf("source leg: %w", ErrNoQuote)
	}
	if targetLeg == nil || len(targetLeg.Data) == 0 {
		return models.RateSnapshot{}, fmt.Errorf("target leg: %w", ErrNoQuote)
	}

	src, tgt := sourceLeg.Data[0], targetLeg.Data[0]
	if !(src.Price > 0) || !(tgt.Price > 0) {
		return models.RateSnapshot{}, ErrNoQuote
	}

	return models.RateSnapshot{
		Time:           at,
		Rate:           tgt.Price / src.Price,
		SourceLegPrice: src.Price,
		TargetLegPrice: tgt.Price,
		SourceExchange: src.Exchange,
		TargetExchange: tgt.Exchange,
		SourceFiat:     sourceLeg.Fiat,
		TargetFiat:     targetLeg.Fiat,
		Intermediary:   sourceLeg.Asset,
	}, nil
}
