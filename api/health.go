package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// healthStatus is one dependency's reachability check result.
type healthStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthCheck implements the expansion's GET /healthz: DB and Redis are
// pinged; the ledger is reported "up" whenever a backend is configured,
// without probing it. It follows the teacher's HealthCheck handler shape
// (api/api.go's HealthCheck).
func HealthCheck(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]healthStatus{}
		overall := "healthy"

		if d.DB != nil {
			if err := d.DB.DB.PingContext(ctx); err != nil {
				checks["database"] = healthStatus{Status: "down", Detail: err.Error()}
				overall = "degraded"
			} else {
				checks["database"] = healthStatus{Status: "up"}
			}
		}

		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = healthStatus{Status: "down", Detail: err.Error()}
				overall = "degraded"
			} else {
				checks["redis"] = healthStatus{Status: "up"}
			}
		}

		if d.Ledger != nil {
			checks["ledger"] = healthStatus{Status: "up"}
		}

		return c.JSON(SuccessResponse{
			Success: true,
			Data: map[string]interface{}{
				"status": overall,
				"checks": checks,
			},
		})
	}
}
