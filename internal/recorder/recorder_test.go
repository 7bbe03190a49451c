package recorder

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeSource struct {
	prices  map[models.Side]float64
	queries []aggregator.Query
}

func (f *fakeSource) Aggregate(_ context.Context, q aggregator.Query) (*models.AggregatedResult, error) {
	f.queries = append(f.queries, q)
	res := &models.AggregatedResult{Asset: q.Asset, Fiat: q.Fiat, Side: q.Side, Data: []models.NormalizedOrder{}}
	if p, ok := f.prices[q.Side]; ok {
		name := "any"
		if len(q.Exchanges) > 0 {
			name = q.Exchanges[0]
		}
		res.Data = append(res.Data, models.NormalizedOrder{ID: "x", Exchange: name, Price: p})
	}
	return res, nil
}

func newTestRecorder(source arbitrage.OrderSource, clock *fakeClock) (*Recorder, *MemoryStore) {
	store := NewMemoryStore(clock.Now)
	return NewRecorder(store, source, DefaultRoute(), 10*time.Second, clock.Now), store
}

func TestRecordPersistsTopOfBook(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &fakeSource{prices: map[models.Side]float64{models.SideBuy: 1500, models.SideSell: 7.5}}
	rec, store := newTestRecorder(source, clock)

	snap, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Rate != 7.5/1500 {
		t.Errorf("unexpected rate %v", snap.Rate)
	}
	if snap.SourceExchange != "bybit" || snap.TargetExchange != "gate" {
		t.Errorf("expected configured exchanges, got %s/%s", snap.SourceExchange, snap.TargetExchange)
	}

	if q := source.queries[0]; q.Fiat != "NGN" || q.Side != models.SideBuy || len(q.Exchanges) != 1 {
		t.Errorf("unexpected source leg query: %+v", q)
	}
	if q := source.queries[1]; q.Fiat != "CNY" || q.Side != models.SideSell {
		t.Errorf("unexpected target leg query: %+v", q)
	}

	stored, _ := store.Range(context.Background(), clock.Now().Add(-time.Minute), clock.Now())
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored snapshot, got %d", len(stored))
	}
}

func TestRecordCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &fakeSource{prices: map[models.Side]float64{models.SideBuy: 1500, models.SideSell: 7.5}}
	rec, _ := newTestRecorder(source, clock)

	if _, err := rec.Record(context.Background()); err != nil {
		t.Fatalf("first record: %v", err)
	}

	clock.Advance(5 * time.Second)
	if _, err := rec.Record(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited within cooldown, got %v", err)
	}
	if len(source.queries) != 2 {
		t.Errorf("rate-limited call must not fetch, saw %d queries", len(source.queries))
	}

	clock.Advance(5 * time.Second)
	if _, err := rec.Record(context.Background()); err != nil {
		t.Fatalf("expected record after cooldown, got %v", err)
	}
}

func TestRecordWithoutQuote(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &fakeSource{prices: map[models.Side]float64{models.SideBuy: 1500}}
	rec, store := newTestRecorder(source, clock)

	if _, err := rec.Record(context.Background()); !errors.Is(err, arbitrage.ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote, got %v", err)
	}
	stored, _ := store.Range(context.Background(), time.Time{}, clock.Now())
	if len(stored) != 0 {
		t.Errorf("nothing should be stored without a quote, got %d", len(stored))
	}
}

func TestHistory(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rec, store := newTestRecorder(&fakeSource{}, clock)
	ctx := context.Background()

	base := clock.Now()
	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		store.Append(ctx, models.RateSnapshot{Time: base.Add(offset), Rate: float64(offset / time.Hour)})
	}

	got, err := rec.History(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Rate != 0 || got[1].Rate != 1 {
		t.Errorf("expected inclusive, time-ordered range, got %+v", got)
	}

	if _, err := rec.History(ctx, base.Add(time.Hour), base); !errors.Is(err, aggregator.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for inverted range, got %v", err)
	}
}

func TestMemoryStoreLocksPerKey(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	if ok, _ := store.Acquire(ctx, "a", time.Second); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := store.Acquire(ctx, "a", time.Second); ok {
		t.Error("expected held lock to reject")
	}
	if ok, _ := store.Acquire(ctx, "b", time.Second); !ok {
		t.Error("locks should be independent per key")
	}

	clock.Advance(time.Second)
	if ok, _ := store.Acquire(ctx, "a", time.Second); !ok {
		t.Error("expected lock to expire")
	}
}

// Runs only against a real server: REDIS_TEST_ADDR=localhost:6379 go test ./...
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	store := NewRedisStore(addr, "", 15)
	store.key = "p2parb:test:snapshots"
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	store.client.Del(ctx, store.key, "p2parb:test:lock")

	now := time.Now().Truncate(time.Millisecond)
	if err := store.Append(ctx, models.RateSnapshot{Time: now, Rate: 0.005}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.Range(ctx, now.Add(-time.Second), now.Add(time.Second))
	if err != nil || len(got) != 1 || got[0].Rate != 0.005 {
		t.Fatalf("unexpected range result %+v (%v)", got, err)
	}

	if ok, _ := store.Acquire(ctx, "p2parb:test:lock", time.Second); !ok {
		t.Error("expected first acquire to succeed")
	}
	if ok, _ := store.Acquire(ctx, "p2parb:test:lock", time.Second); ok {
		t.Error("expected second acquire to fail")
	}
}
