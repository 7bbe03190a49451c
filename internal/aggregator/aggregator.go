package aggregator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/cache"
	"github.com/suwandre/p2parb/internal/exchange"
	"github.com/suwandre/p2parb/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL = 30 * time.Second
	DefaultTimeout  = 15 * time.Second
)

var ErrInvalidQuery = errors.New("invalid query")

type Query struct {
	Asset         string
	Fiat          string
	Side          models.Side
	Exchanges     []string // empty means every active exchange
	MinFiatAmount float64
}

func (q Query) normalize() (Query, error) {
	q.Asset = strings.ToUpper(strings.TrimSpace(q.Asset))
	q.Fiat = strings.ToUpper(strings.TrimSpace(q.Fiat))

	if q.Asset == "" || q.Fiat == "" {
		return q, fmt.Errorf("%w: asset and fiat are required", ErrInvalidQuery)
	}
	if !q.Side.Valid() {
		return q, fmt.Errorf("%w: side %q", ErrInvalidQuery, q.Side)
	}
	if q.MinFiatAmount < 0 || math.IsNaN(q.MinFiatAmount) || math.IsInf(q.MinFiatAmount, 0) {
		return q, fmt.Errorf("%w: fiat amount %v", ErrInvalidQuery, q.MinFiatAmount)
	}
	return q, nil
}

// cacheKey is ASSET|FIAT|SIDE. The exchange subset and the amount filter
// are appended only when set, so default queries share one bucket.
func (q Query) cacheKey() string {
	key := q.Asset + "|" + q.Fiat + "|" + string(q.Side)
	if len(q.Exchanges) > 0 {
		names := make([]string, len(q.Exchanges))
		for i, n := range q.Exchanges {
			names[i] = strings.ToLower(strings.TrimSpace(n))
		}
		slices.Sort(names)
		key += "|" + strings.Join(slices.Compact(names), ",")
	}
	if q.MinFiatAmount > 0 {
		key += "|" + strconv.FormatFloat(q.MinFiatAmount, 'f', -1, 64)
	}
	return key
}

type Aggregator struct {
	registry *exchange.Registry
	cache    *cache.Cache[*models.AggregatedResult]
	group    singleflight.Group
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Aggregator)

// WithTimeout bounds a whole fan-out. Exchanges still pending when it fires
// are reported as failed and the rest is returned.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func NewAggregator(registry *exchange.Registry, cacheTTL time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: registry,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	a.cache = cache.New(cacheTTL, cache.WithClock[*models.AggregatedResult](a.now))
	return a
}

// Holds either orders or an error for one exchange.
type exchangeResult struct {
	index   int
	name    string
	orders  []models.NormalizedOrder
	err     error
	elapsed time.Duration
}

// Aggregate queries the selected exchanges concurrently and merges whatever
// succeeded. Per-exchange failures are reported in PerExchange; the call
// itself fails only on an invalid query, an unknown or unavailable exchange
// name, or when ctx ends while waiting on another caller's fan-out.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*models.AggregatedResult, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	adapters, err := a.registry.Resolve(q.Exchanges)
	if err != nil {
		return nil, err
	}

	key := q.cacheKey()
	if cached, ok := a.cache.Get(key); ok && cached != nil {
		log.Debug().Str("key", key).Msg("order cache hit")
		return cloneResult(cached), nil
	}

	// A caller whose deadline lands before a.timeout fans out on its own so
	// the deadline cuts the fan-out short and still yields a partial result.
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < a.timeout {
		res, complete := a.fanOut(ctx, q, adapters)
		if complete && res.Summary.Succeeded > 0 {
			a.cache.Set(key, res)
		}
		return cloneResult(res), nil
	}

	// Concurrent misses on one key share a single fan-out. The shared call is
	// detached from any one caller's cancellation and bounded by a.timeout.
	ch := a.group.DoChan(key, func() (any, error) {
		if cached, ok := a.cache.Get(key); ok && cached != nil {
			return cached, nil
		}

		res, complete := a.fanOut(context.WithoutCancel(ctx), q, adapters)
		if complete && res.Summary.Succeeded > 0 {
			a.cache.Set(key, res)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		return cloneResult(r.Val.(*models.AggregatedResult)), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("aggregate %s: %w", key, ctx.Err())
	}
}

// FetchExchange is Aggregate restricted to one exchange.
func (a *Aggregator) FetchExchange(ctx context.Context, name string, q Query) (*models.AggregatedResult, error) {
	q.Exchanges = []string{name}
	return a.Aggregate(ctx, q)
}

func (a *Aggregator) Clear() {
	a.cache.Clear()
	log.Info().Msg("order cache cleared")
}

func (a *Aggregator) fanOut(ctx context.Context, q Query, adapters []exchange.Exchange) (*models.AggregatedResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// Buffered so that stragglers never block after a timeout.
	results := make(chan exchangeResult, len(adapters))

	for i, ex := range adapters {
		go func(i int, ex exchange.Exchange) {
			results <- fetchOne(ctx, i, ex, q)
		}(i, ex)
	}

	collected := make([]*exchangeResult, len(adapters))
	complete := true

collect:
	for remaining := len(adapters); remaining > 0; remaining-- {
		select {
		case r := <-results:
			collected[r.index] = &r
		case <-ctx.Done():
			complete = false
			break collect
		}
	}

	res := &models.AggregatedResult{
		Asset:         q.Asset,
		Fiat:          q.Fiat,
		Side:          q.Side,
		MinFiatAmount: q.MinFiatAmount,
		Data:          []models.NormalizedOrder{},
		PerExchange:   make(map[string]models.ExchangeStatus, len(adapters)),
	}
	res.Summary.Queried = len(adapters)

	for i, r := range collected {
		if r == nil {
			msg := "timed out"
			res.PerExchange[adapters[i].Name()] = models.ExchangeStatus{Error: &msg}
			log.Warn().Str("exchange", adapters[i].Name()).Msg("exchange timed out, skipping")
			continue
		}

		if r.err != nil {
			msg := r.err.Error()
			res.PerExchange[r.name] = models.ExchangeStatus{Error: &msg, Elapsed: r.elapsed}
			log.Warn().
				Err(r.err).
				Str("exchange", r.name).
				Dur("elapsed", r.elapsed).
				Str("asset", q.Asset).
				Str("fiat", q.Fiat).
				Str("side", string(q.Side)).
				Msg("failed to fetch exchange, skipping")
			continue
		}

		count := 0
		for _, o := range r.orders {
			if !(o.Price > 0) || math.IsInf(o.Price, 0) {
				continue
			}
			o.Exchange = r.name
			o.DisplayKey = strings.ToLower(r.name) + ":" + o.ID
			res.Data = append(res.Data, o)
			count++
		}

		res.PerExchange[r.name] = models.ExchangeStatus{Success: true, Count: count, Elapsed: r.elapsed}
		res.Summary.Succeeded++
	}

	sortOrders(res.Data, q.Side)
	res.Summary.TotalOffers = len(res.Data)
	res.FetchedAt = a.now()

	log.Info().
		Str("asset", q.Asset).
		Str("fiat", q.Fiat).
		Str("side", string(q.Side)).
		Int("exchanges", res.Summary.Succeeded).
		Int("queried", res.Summary.Queried).
		Int("offers", res.Summary.TotalOffers).
		Msg("orders aggregated")

	return res, complete
}

// fetchOne never panics: a panicking adapter is recorded as that adapter's
// failure so the rest of the fan-out still settles.
func fetchOne(ctx context.Context, index int, ex exchange.Exchange, q Query) (res exchangeResult) {
	start := time.Now()
	res = exchangeResult{index: index, name: ex.Name()}

	defer func() {
		if p := recover(); p != nil {
			res.orders = nil
			res.err = fmt.Errorf("%s: adapter panic: %v", ex.Name(), p)
		}
		res.elapsed = time.Since(start)
	}()

	orders, err := ex.FetchOrders(ctx, q.Asset, q.Fiat, q.Side, exchange.FetchOptions{MinFiatAmount: q.MinFiatAmount})
	if err != nil {
		res.err = err
		return res
	}
	res.orders = orders
	return res
}

// sortOrders puts the best offer for the requester first: cheapest when
// buying, richest when selling. Equal prices keep fetch order.
func sortOrders(orders []models.NormalizedOrder, side models.Side) {
	sort.SliceStable(orders, func(i, j int) bool {
		if side == models.SideBuy {
			return orders[i].Price < orders[j].Price
		}
		return orders[i].Price > orders[j].Price
	})
}

// cloneResult hands callers their own top-level slice and map so cached
// entries are never mutated through a returned value.
func cloneResult(r *models.AggregatedResult) *models.AggregatedResult {
	out := *r
	out.Data = slices.Clone(r.Data)
	out.PerExchange = maps.Clone(r.PerExchange)
	return &out
}
