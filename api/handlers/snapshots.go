package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/models"
	"github.com/suwandre/p2parb/internal/recorder"
)

const defaultHistoryWindow = 24 * time.Hour

type SnapshotRecorder interface {
	Record(ctx context.Context) (models.RateSnapshot, error)
	History(ctx context.Context, from, to time.Time) ([]models.RateSnapshot, error)
}

type SnapshotsHandler struct {
	recorder SnapshotRecorder
	now      func() time.Time
}

func NewSnapshotsHandler(rec SnapshotRecorder) *SnapshotsHandler {
	return &SnapshotsHandler{recorder: rec, now: time.Now}
}

// Handles POST /snapshots.
func (h *SnapshotsHandler) Record(c fiber.Ctx) error {
	snap, err := h.recorder.Record(c.Context())
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success":  true,
			"snapshot": snap,
		})
	case errors.Is(err, recorder.ErrRateLimited):
		return errorJSON(c, fiber.StatusTooManyRequests, errors.New("rate limit exceeded, try again later"))
	case errors.Is(err, arbitrage.ErrNoQuote):
		log.Warn().Err(err).Msg("snapshot has no quote")
		return errorJSON(c, fiber.StatusBadGateway, err)
	default:
		log.Error().Err(err).Msg("snapshot failed")
		return errorJSON(c, statusFor(err), err)
	}
}

func parseTime(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q is not RFC3339", aggregator.ErrInvalidQuery, raw)
	}
	return t, nil
}

// Handles GET /snapshots?from=&to=.
func (h *SnapshotsHandler) History(c fiber.Ctx) error {
	now := h.now()

	to, err := parseTime(c.Query("to"), now)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	from, err := parseTime(c.Query("from"), to.Add(-defaultHistoryWindow))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}

	snaps, err := h.recorder.History(c.Context(), from, to)
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"from":      from,
		"to":        to,
		"snapshots": snaps,
	})
}
