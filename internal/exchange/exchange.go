package exchange

import (
	"context"
	"errors"

	"github.com/suwandre/p2parb/internal/models"
)

var (
	ErrUnknownExchange     = errors.New("unknown exchange")
	ErrExchangeUnavailable = errors.New("exchange not available")
	ErrDuplicateExchange   = errors.New("exchange already registered")
)

// FetchOptions narrows a listing query. Zero values mean "no filter".
type FetchOptions struct {
	MinFiatAmount float64
}

// Exchange fetches P2P listings for one venue and maps them to NormalizedOrder.
//
// FetchOrders returns an empty slice together with a non-nil error on any
// remote failure; it never panics on malformed payloads. Individual listings
// that cannot be normalized are dropped silently.
type Exchange interface {
	Name() string
	Available() bool
	FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error)
}
