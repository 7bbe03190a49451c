package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/models"
)

const (
	DefaultCooldown = 10 * time.Second
	refreshLockKey  = "p2parb:snapshot:last_call"
)

var ErrRateLimited = errors.New("snapshot rate limit exceeded")

// Route names the two legs a snapshot reads. Empty exchange names mean
// "best across every active exchange".
type Route struct {
	Intermediary   string `yaml:"intermediary"`
	SourceFiat     string `yaml:"source_fiat"`
	SourceExchange string `yaml:"source_exchange"`
	TargetFiat     string `yaml:"target_fiat"`
	TargetExchange string `yaml:"target_exchange"`
}

func DefaultRoute() Route {
	return Route{
		Intermediary:   "USDT",
		SourceFiat:     "NGN",
		SourceExchange: "bybit",
		TargetFiat:     "CNY",
		TargetExchange: "gate",
	}
}

type Recorder struct {
	store    Store
	source   arbitrage.OrderSource
	route    Route
	cooldown time.Duration
	now      func() time.Time
}

func NewRecorder(store Store, source arbitrage.OrderSource, route Route, cooldown time.Duration, now func() time.Time) *Recorder {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, source: source, route: route, cooldown: cooldown, now: now}
}

func legExchanges(name string) []string {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return []string{name}
}

// Record reads top-of-book for both legs and persists it. At most one
// recording is allowed per cooldown window.
func (r *Recorder) Record(ctx context.Context) (models.RateSnapshot, error) {
	ok, err := r.store.Acquire(ctx, refreshLockKey, r.cooldown)
	if err != nil {
		return models.RateSnapshot{}, fmt.Errorf("snapshot lock: %w", err)
	}
	if !ok {
		return models.RateSnapshot{}, ErrRateLimited
	}

	srcLeg, err := r.source.Aggregate(ctx, aggregator.Query{
		Asset:     r.route.Intermediary,
		Fiat:      r.route.SourceFiat,
		Side:      models.SideBuy,
		Exchanges: legExchanges(r.route.SourceExchange),
	})
	if err != nil {
		return models.RateSnapshot{}, fmt.Errorf("snapshot source leg: %w", err)
	}

	tgtLeg, err := r.source.Aggregate(ctx, aggregator.Query{
		Asset:     r.route.Intermediary,
		Fiat:      r.route.TargetFiat,
		Side:      models.SideSell,
		Exchanges: legExchanges(r.route.TargetExchange),
	})
	if err != nil {
		return models.RateSnapshot{}, fmt.Errorf("snapshot target leg: %w", err)
	}

	snap, err := arbitrage.BestQuote(srcLeg, tgtLeg, r.now())
	if err != nil {
		return models.RateSnapshot{}, err
	}

	if err := r.store.Append(ctx, snap); err != nil {
		return models.RateSnapshot{}, err
	}

	log.Info().
		Float64("rate", snap.Rate).
		Float64("source_price", snap.SourceLegPrice).
		Float64("target_price", snap.TargetLegPrice).
		Msg("rate snapshot recorded")
	return snap, nil
}

func (r *Recorder) History(ctx context.Context, from, to time.Time) ([]models.RateSnapshot, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: history range ends before it starts", aggregator.ErrInvalidQuery)
	}
	return r.store.Range(ctx, from, to)
}
