package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/models"
)

// Store persists snapshots and hands out short-lived locks used to throttle
// snapshot refreshes across processes.
type Store interface {
	Append(ctx context.Context, s models.RateSnapshot) error
	Range(ctx context.Context, from, to time.Time) ([]models.RateSnapshot, error)
	// Acquire returns true if key was free and is now held for window.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

const defaultSnapshotKey = "p2parb:snapshots"

// RedisStore keeps snapshots in a sorted set scored by unix millis.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	log.Info().Str("addr", addr).Int("db", db).Msg("initializing redis snapshot store")
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		key: defaultSnapshotKey,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Append(ctx context.Context, snap models.RateSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis store: failed to encode snapshot: %w", err)
	}
	err = s.client.ZAdd(ctx, s.key, &redis.Z{
		Score:  float64(snap.Time.UnixMilli()),
		Member: string(b),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis store: ZADD %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Range(ctx context.Context, from, to time.Time) ([]models.RateSnapshot, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: ZRANGEBYSCORE %s: %w", s.key, err)
	}

	out := make([]models.RateSnapshot, 0, len(members))
	for _, m := range members {
		var snap models.RateSnapshot
		if err := json.Unmarshal([]byte(m), &snap); err != nil {
			log.Warn().Err(err).Msg("skipping corrupt snapshot entry")
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis store: SETNX %s: %w", key, err)
	}
	return ok, nil
}

// MemoryStore is the single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots []models.RateSnapshot
	locks     map[string]time.Time
	now       func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{locks: make(map[string]time.Time), now: now}
}

func (m *MemoryStore) Append(_ context.Context, snap models.RateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, snap)
	sort.SliceStable(m.snapshots, func(i, j int) bool {
		return m.snapshots[i].Time.Before(m.snapshots[j].Time)
	})
	return nil
}

func (m *MemoryStore) Range(_ context.Context, from, to time.Time) ([]models.RateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.RateSnapshot{}
	for _, s := range m.snapshots {
		if s.Time.Before(from) || s.Time.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, held := m.locks[key]; held && now.Before(until) {
		return false, nil
	}
	m.locks[key] = now.Add(window)
	return true, nil
}
