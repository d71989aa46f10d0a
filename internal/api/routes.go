package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts metrics, health, product and ingestion routes.
// nc and ih may be nil when NATS or ingestion control are not configured.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, checks map[string]HealthChecker,
	ph *ProductHandler,
	ih *IngestionHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		results := map[string]string{}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			results["nats"] = "ok"
			if !nc.IsConnected() {
				results["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				results["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			results[name] = "ok"
			if err := check.HealthCheck(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	products := app.Group("/products")
	products.Get("/", ph.ListProducts)
	products.Get("/search/name", ph.SearchByName)
	products.Get("/search/price", ph.SearchByPrice)
	products.Get("/:id", ph.GetProduct)
	products.Post("/", ph.CreateProduct)
	products.Put("/:id", ph.UpdateProduct)
	products.Delete("/:id", ph.DeleteProduct)

	if ih != nil {
		app.Get("/ingestion/status", ih.Status)
		app.Post("/ingestion/run", ih.Run)
	}
}
