package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the requester's point of view: BUY means the user wants to acquire
// the asset with fiat, SELL means the user wants to dispose of it for fiat.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts any casing of "buy"/"sell".
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q, expected BUY or SELL", s)
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite flips the side. Several venues encode listings from the
// advertiser's point of view, which is the opposite of the requester's.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// NormalizedOrder is one P2P advertisement mapped into the exchange-agnostic shape.
type NormalizedOrder struct {
	ID              string   `json:"id"`
	Exchange        string   `json:"exchange"`
	Asset           string   `json:"asset"`
	FiatCurrency    string   `json:"fiat_currency"`
	Side            Side     `json:"side"`
	Price           float64  `json:"price"`      // fiat per unit of asset, always > 0
	MinAmount       float64  `json:"min_amount"` // unit as quoted by the venue
	MaxAmount       float64  `json:"max_amount"`
	AvailableAmount float64  `json:"available_amount"` // asset units
	PaymentMethods  []string `json:"payment_methods"`
	MerchantName    string   `json:"merchant_name"`
	CompletionRate  float64  `json:"completion_rate"`
	OrderCount      float64  `json:"order_count"`
	Timestamp       int64    `json:"timestamp"` // epoch millis, time fetched
	CreatedAt       *int64   `json:"created_at,omitempty"`
	DisplayKey      string   `json:"display_key,omitempty"`
	DefaultedFields []string `json:"defaulted_fields,omitempty"`
}

// ExchangeStatus reports the outcome of one adapter call inside an aggregation.
type ExchangeStatus struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Error   *string       `json:"error"`
	Elapsed time.Duration `json:"elapsed"`
}

type AggregateSummary struct {
	Queried     int `json:"total_exchanges_queried"`
	Succeeded   int `json:"successful_exchanges"`
	TotalOffers int `json:"total_offers"`
}

// AggregatedResult is the merged, sorted view of one (asset, fiat, side) query.
type AggregatedResult struct {
	Asset         string                    `json:"asset"`
	Fiat          string                    `json:"fiat"`
	Side          Side                      `json:"side"`
	MinFiatAmount float64                   `json:"fiat_amount,omitempty"`
	Data          []NormalizedOrder         `json:"data"`
	PerExchange   map[string]ExchangeStatus `json:"per_exchange"`
	Summary       AggregateSummary          `json:"summary"`
	FetchedAt     time.Time                 `json:"fetched_at"`
}

// Partial reports whether at least one queried exchange failed.
func (r *AggregatedResult) Partial() bool {
	return r.Summary.Succeeded < r.Summary.Queried
}

// ArbitrageOpportunity is an ephemeral cross-venue route. Rates are expressed
// as intermediary per unit of fiat; prices are the raw leg prices.
type ArbitrageOpportunity struct {
	ID                   string   `json:"id"`
	SourceCurrency       string   `json:"source_currency"`
	TargetCurrency       string   `json:"target_currency"`
	IntermediaryCurrency string   `json:"intermediary_currency"`
	SourceExchange       string   `json:"source_exchange"`
	TargetExchange       string   `json:"target_exchange"`
	SourcePrice          float64  `json:"source_price"`
	TargetPrice          float64  `json:"target_price"`
	SourceRate           float64  `json:"source_rate"`
	TargetRate           float64  `json:"target_rate"`
	CrossRate            float64  `json:"cross_rate"`
	DirectRate           float64  `json:"direct_rate"`
	ProfitMargin         float64  `json:"profit_margin"`
	ProfitPercentage     float64  `json:"profit_percentage"`
	MinAmount            float64  `json:"min_amount"`
	MaxAmount            float64  `json:"max_amount"`
	PaymentMethods       []string `json:"payment_methods"`
	Tier                 float64  `json:"tier"`
	Route                string   `json:"route"`
	Timestamp            int64    `json:"timestamp"`
}

// RateSnapshot is a top-of-book reading persisted for historical charting.
type RateSnapshot struct {
	Time           time.Time `json:"time"`
	Rate           float64   `json:"rate"` // target fiat per unit of source fiat
	SourceLegPrice float64   `json:"source_leg_price"`
	TargetLegPrice float64   `json:"target_leg_price"`
	SourceExchange string    `json:"source_exchange"`
	TargetExchange string    `json:"target_exchange"`
	SourceFiat     string    `json:"source_fiat"`
	TargetFiat     string    `json:"target_fiat"`
	Intermediary   string    `json:"intermediary"`
}
