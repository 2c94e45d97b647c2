package api

import (
	"github.com/gofiber/fiber/v2"
)

// GetPolicy implements GET /policies/{id}?version=.
func GetPolicy(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		policyID := c.Params("id")
		version := c.Query("version")

		policy, err := d.Policies.GetPolicy(policyID, version)
		if err != nil {
			return err
		}
		return c.JSON(SuccessResponse{Success: true, Data: policy})
	}
}
