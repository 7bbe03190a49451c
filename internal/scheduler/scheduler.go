package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/models"
	"github.com/suwandre/p2parb/internal/recorder"
)

// Route is one source→target fiat pair routed through an intermediary asset.
type Route struct {
	Source       string `yaml:"source"`
	Target       string `yaml:"target"`
	Intermediary string `yaml:"intermediary"`
}

func (r Route) Key() string {
	return strings.ToUpper(r.Source) + "-" + strings.ToUpper(r.Target) + "-" + strings.ToUpper(r.Intermediary)
}

type OpportunityFinder interface {
	Opportunities(ctx context.Context, source, target, intermediary string) (*arbitrage.Report, error)
}

type SnapshotRecorder interface {
	Record(ctx context.Context) (models.RateSnapshot, error)
}

type Scheduler struct {
	finder   OpportunityFinder
	recorder SnapshotRecorder
	routes   []Route
	interval time.Duration
	cache    map[string]*arbitrage.Report
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

// NewScheduler builds a scheduler. rec may be nil to skip snapshot recording.
func NewScheduler(finder OpportunityFinder, rec SnapshotRecorder, routes []Route, interval time.Duration) *Scheduler {
	return &Scheduler{
		finder:   finder,
		recorder: rec,
		routes:   routes,
		interval: interval,
		cache:    make(map[string]*arbitrage.Report),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Begins the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(s.done)

		// Run once immediately so cache isn't empty on first request
		s.refresh(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.refresh(ctx)
			case <-ctx.Done():
				log.Info().Msg("scheduler context done")
				return
			case <-s.stopCh:
				log.Info().Msg("scheduler stopped")
				return
			}
		}
	}()

	keys := make([]string, 0, len(s.routes))
	for _, r := range s.routes {
		keys = append(keys, r.Key())
	}
	log.Info().
		Stringer("interval", s.interval).
		Strs("routes", keys).
		Msg("scheduler started")
}

// Signals the background goroutine to exit and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

// Returns the latest cached report for a route.
func (s *Scheduler) Report(route Route) (*arbitrage.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.cache[route.Key()]
	return report, ok
}

// Fetches fresh opportunities for all routes and records a rate snapshot.
func (s *Scheduler) refresh(ctx context.Context) {
	for _, route := range s.routes {
		if ctx.Err() != nil {
			return
		}

		report, err := s.finder.Opportunities(ctx, route.Source, route.Target, route.Intermediary)
		if err != nil {
			log.Error().Err(err).Str("route", route.Key()).Msg("scheduler refresh failed")
			continue
		}

		s.mu.Lock()
		s.cache[route.Key()] = report
		s.mu.Unlock()

		log.Info().Str("route", route.Key()).Int("opportunities", len(report.Opportunities)).Msg("cache refreshed")
	}

	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx); err != nil {
		if errors.Is(err, recorder.ErrRateLimited) {
			log.Debug().Msg("snapshot skipped, cooldown active")
			return
		}
		log.Error().Err(err).Msg("snapshot recording failed")
	}
}
