package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/models"
)

type OrderAggregator interface {
	Aggregate(ctx context.Context, q aggregator.Query) (*models.AggregatedResult, error)
	FetchExchange(ctx context.Context, name string, q aggregator.Query) (*models.AggregatedResult, error)
	Clear()
}

type ExchangeLister interface {
	Names() []string
	Registered() []string
}

type OrdersHandler struct {
	aggregator OrderAggregator
	exchanges  ExchangeLister
}

func NewOrdersHandler(agg OrderAggregator, exchanges ExchangeLister) *OrdersHandler {
	return &OrdersHandler{aggregator: agg, exchanges: exchanges}
}

// Handles GET /exchanges.
func (h *OrdersHandler) ListExchanges(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"exchanges":  h.exchanges.Names(),
		"registered": h.exchanges.Registered(),
	})
}

func parseOrderQuery(c fiber.Ctx) (aggregator.Query, error) {
	side, err := models.ParseSide(c.Params("side"))
	if err != nil {
		return aggregator.Query{}, fmt.Errorf("%w: %v", aggregator.ErrInvalidQuery, err)
	}

	q := aggregator.Query{
		Asset: c.Params("asset"),
		Fiat:  c.Params("fiat"),
		Side:  side,
	}

	if raw := c.Query("exchanges"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Exchanges = append(q.Exchanges, name)
			}
		}
	}

	if raw := c.Query("fiatAmount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return aggregator.Query{}, fmt.Errorf("%w: fiatAmount %q", aggregator.ErrInvalidQuery, raw)
		}
		q.MinFiatAmount = amount
	}
	return q, nil
}

// Handles GET /orders/:side/:asset/:fiat.
func (h *OrdersHandler) GetOrders(c fiber.Ctx) error {
	q, err := parseOrderQuery(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}

	log.Info().
		Str("asset", q.Asset).
		Str("fiat", q.Fiat).
		Str("side", string(q.Side)).
		Msg("fetching orders")

	result, err := h.aggregator.Aggregate(c.Context(), q)
	if err != nil {
		log.Warn().Err(err).Msg("order aggregation rejected")
		return errorJSON(c, statusFor(err), err)
	}
	if result.Partial() {
		log.Warn().
			Int("succeeded", result.Summary.Succeeded).
			Int("queried", result.Summary.Queried).
			Msg("serving partial order book")
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// Handles GET /orders/:side/:asset/:fiat/:exchange.
func (h *OrdersHandler) GetExchangeOrders(c fiber.Ctx) error {
	q, err := parseOrderQuery(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}

	name := c.Params("exchange")
	result, err := h.aggregator.FetchExchange(c.Context(), name, q)
	if err != nil {
		log.Warn().Err(err).Str("exchange", name).Msg("exchange query rejected")
		return errorJSON(c, statusFor(err), err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// Handles DELETE /cache.
func (h *OrdersHandler) ClearCache(c fiber.Ctx) error {
	h.aggregator.Clear()
	return c.SendStatus(fiber.StatusNoContent)
}
