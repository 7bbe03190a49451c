package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/exchange"
)

// statusFor maps core errors onto HTTP statuses. Validation problems are the
// caller's fault; anything else is ours.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrInvalidQuery),
		errors.Is(err, exchange.ErrUnknownExchange),
		errors.Is(err, exchange.ErrExchangeUnavailable):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
