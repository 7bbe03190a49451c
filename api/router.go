package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/suwandre/p2parb/api/handlers"
)

type Handlers struct {
	Orders        *handlers.OrdersHandler
	Opportunities *handlers.OpportunitiesHandler
	Snapshots     *handlers.SnapshotsHandler
}

func SetupRoutes(app *fiber.App, h Handlers) {
	v1 := app.Group("/v1")

	v1.Get("/exchanges", h.Orders.ListExchanges)
	v1.Get("/orders/:side/:asset/:fiat", h.Orders.GetOrders)
	v1.Get("/orders/:side/:asset/:fiat/:exchange", h.Orders.GetExchangeOrders)
	v1.Delete("/cache", h.Orders.ClearCache)

	v1.Get("/opportunities/:source/:target", h.Opportunities.GetOpportunities)

	v1.Post("/snapshots", h.Snapshots.Record)
	v1.Get("/snapshots", h.Snapshots.History)
}
