package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/scheduler"
)

const defaultIntermediary = "USDT"

type OpportunityFinder interface {
	Opportunities(ctx context.Context, source, target, intermediary string) (*arbitrage.Report, error)
}

type ReportCache interface {
	Report(route scheduler.Route) (*arbitrage.Report, bool)
}

type OpportunitiesHandler struct {
	finder OpportunityFinder
	cache  ReportCache
	maxAge time.Duration
	now    func() time.Time
}

// NewOpportunitiesHandler serves scheduled reports younger than maxAge and
// computes everything else on demand. cache may be nil.
func NewOpportunitiesHandler(finder OpportunityFinder, cache ReportCache, maxAge time.Duration) *OpportunitiesHandler {
	return &OpportunitiesHandler{finder: finder, cache: cache, maxAge: maxAge, now: time.Now}
}

// Handles GET /opportunities/:source/:target.
func (h *OpportunitiesHandler) GetOpportunities(c fiber.Ctx) error {
	route := scheduler.Route{
		Source:       c.Params("source"),
		Target:       c.Params("target"),
		Intermediary: c.Query("intermediary", defaultIntermediary),
	}

	if h.cache != nil && c.Query("fresh") != "true" {
		if report, ok := h.cache.Report(route); ok && h.now().Sub(report.ComputedAt) <= h.maxAge {
			log.Debug().Str("route", route.Key()).Msg("serving scheduled report")
			return c.Status(fiber.StatusOK).JSON(report)
		}
	}

	report, err := h.finder.Opportunities(c.Context(), route.Source, route.Target, route.Intermediary)
	if err != nil {
		log.Error().Err(err).Str("route", route.Key()).Msg("failed to compute opportunities")
		return errorJSON(c, statusFor(err), err)
	}

	return c.Status(fiber.StatusOK).JSON(report)
}
