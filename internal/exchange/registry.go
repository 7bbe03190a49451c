package exchange

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds adapters by case-insensitive name. Registration order is the
// default iteration order and nothing else.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Exchange
	order    []string
}

func NewRegistry(adapters ...Exchange) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Exchange)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(adapter Exchange) error {
	if adapter == nil {
		return fmt.Errorf("registry: nil adapter")
	}
	key := registryKey(adapter.Name())
	if key == "" {
		return fmt.Errorf("registry: empty adapter name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("registry: %s: %w", key, ErrDuplicateExchange)
	}
	r.adapters[key] = adapter
	r.order = append(r.order, key)
	return nil
}

// Get returns the adapter regardless of availability.
func (r *Registry) Get(name string) (Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[registryKey(name)]
	return a, ok
}

// ListActive returns available adapters in registration order.
func (r *Registry) ListActive() []Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]Exchange, 0, len(r.order))
	for _, key := range r.order {
		if a := r.adapters[key]; a.Available() {
			active = append(active, a)
		}
	}
	return active
}

// Names lists active adapters.
func (r *Registry) Names() []string {
	active := r.ListActive()
	names := make([]string, 0, len(active))
	for _, a := range active {
		names = append(names, a.Name())
	}
	return names
}

// Registered lists every adapter, active or not, in registration order.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, key := range r.order {
		names = append(names, r.adapters[key].Name())
	}
	return names
}

// Resolve maps explicit names to adapters. An empty list means every active
// adapter. Unknown and unavailable names are errors.
func (r *Registry) Resolve(names []string) ([]Exchange, error) {
	if len(names) == 0 {
		return r.ListActive(), nil
	}

	seen := make(map[string]bool, len(names))
	out := make([]Exchange, 0, len(names))
	for _, n := range names {
		key := registryKey(n)
		if key == "" || seen[key] {
			continue
		}
		a, ok := r.Get(key)
		if !ok {
			return nil, fmt.Errorf("%q: %w", n, ErrUnknownExchange)
		}
		if !a.Available() {
			return nil, fmt.Errorf("%q: %w", n, ErrExchangeUnavailable)
		}
		seen[key] = true
		out = append(out, a)
	}
	return out, nil
}

// Builder constructs an adapter from its per-venue settings.
type Builder func(cfg AdapterConfig) Exchange

var builders = map[string]Builder{
	"bybit":   func(cfg AdapterConfig) Exchange { return NewBybitAdapter(cfg) },
	"gate":    func(cfg AdapterConfig) Exchange { return NewGateAdapter(cfg) },
	"binance": func(cfg AdapterConfig) Exchange { return NewBinanceAdapter(cfg) },
	"okx":     func(cfg AdapterConfig) Exchange { return NewOKXAdapter(cfg) },
	"bitget":  func(cfg AdapterConfig) Exchange { return NewBitgetAdapter(cfg) },
}

// KnownNames lists the venues Build understands, in default order.
func KnownNames() []string {
	return []string{"bybit", "gate", "binance", "okx", "bitget"}
}

func Build(name string, cfg AdapterConfig) (Exchange, error) {
	b, ok := builders[registryKey(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownExchange)
	}
	return b(cfg), nil
}
