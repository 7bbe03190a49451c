package arbitrage

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/p2parb/internal/models"
)

const DefaultMinProfitPct = 0.1

// DefaultTiers are the trade sizes, in source fiat, an opportunity must fit.
var DefaultTiers = []float64{1_000, 5_000, 10_000, 50_000, 100_000, 500_000}

type Params struct {
	SourceCurrency       string
	TargetCurrency       string
	IntermediaryCurrency string
	Tiers                []float64
	MinProfitPct         float64
	Now                  time.Time
}

// ComputeOpportunities pairs every eligible source-leg order with every
// eligible target-leg order on a different exchange, per tier, and keeps the
// pairs whose cross rate beats the direct rate by more than MinProfitPct.
//
// Leg prices are fiat per unit of intermediary, so the leg rates are their
// inverses and crossRate = sourceRate / targetRate is target fiat per unit of
// source fiat. The result is sorted by profit percentage, richest first, with
// discovery order kept among equals.
func ComputeOpportunities(p Params, sourceOrders, targetOrders []models.NormalizedOrder, rates RateLookup) []models.ArbitrageOpportunity {
	opportunities := []models.ArbitrageOpportunity{}

	if rates == nil {
		return opportunities
	}
	directRate, ok := rates.DirectRate(p.SourceCurrency, p.TargetCurrency)
	if !ok || !(directRate > 0) {
		return opportunities
	}

	tiers := slices.Clone(p.Tiers)
	slices.Sort(tiers)

	for _, tier := range tiers {
		sources := eligible(sourceOrders, tier)
		targets := eligible(targetOrders, tier)

		for _, src := range sources {
			for _, tgt := range targets {
				// Moving value needs two venues; same-venue pairs are never
				// opportunities, whatever the numbers say.
				if strings.EqualFold(src.Exchange, tgt.Exchange) {
					continue
				}

				sourceRate := 1 / src.Price
				targetRate := 1 / tgt.Price
				crossRate := sourceRate / targetRate

				margin := crossRate - directRate
				pct := margin / directRate * 100
				if !(pct > p.MinProfitPct) {
					continue
				}

				opportunities = append(opportunities, models.ArbitrageOpportunity{
					ID:                   opportunityID(src.ID, tgt.ID, tier),
					SourceCurrency:       p.SourceCurrency,
					TargetCurrency:       p.TargetCurrency,
					IntermediaryCurrency: p.IntermediaryCurrency,
					SourceExchange:       src.Exchange,
					TargetExchange:       tgt.Exchange,
					SourcePrice:          src.Price,
					TargetPrice:          tgt.Price,
					SourceRate:           sourceRate,
					TargetRate:           targetRate,
					CrossRate:            crossRate,
					DirectRate:           directRate,
					ProfitMargin:         margin,
					ProfitPercentage:     pct,
					MinAmount:            max(src.MinAmount, tgt.MinAmount),
					MaxAmount:            min(src.MaxAmount, tgt.MaxAmount, src.AvailableAmount, tgt.AvailableAmount),
					PaymentMethods:       commonPaymentMethods(src.PaymentMethods, tgt.PaymentMethods),
					Tier:                 tier,
					Route:                route(p, src.Exchange, tgt.Exchange),
					Timestamp:            p.Now.UnixMilli(),
				})
			}
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].ProfitPercentage > opportunities[j].ProfitPercentage
	})
	return opportunities
}

// eligible keeps orders whose size window and liquidity cover amount.
func eligible(orders []models.NormalizedOrder, amount float64) []models.NormalizedOrder {
	out := make([]models.NormalizedOrder, 0, len(orders))
	for _, o := range orders {
		if !(o.Price > 0) {
			continue
		}
		if o.MinAmount <= amount && o.MaxAmount >= amount && o.AvailableAmount >= amount {
			out = append(out, o)
		}
	}
	return out
}

func opportunityID(sourceID, targetID string, tier float64) string {
	return sourceID + "-" + targetID + "-" + strconv.FormatFloat(tier, 'f', -1, 64)
}

// commonPaymentMethods is the set intersection, in source-leg order.
func commonPaymentMethods(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, m := range b {
		inB[m] = true
	}

	out := []string{}
	seen := make(map[string]bool, len(a))
	for _, m := range a {
		if inB[m] && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func route(p Params, sourceExchange, targetExchange string) string {
	return p.SourceCurrency + " → " + p.IntermediaryCurrency + " (" + sourceExchange + ") → " +
		p.TargetCurrency + " (" + targetExchange + ")"
}
