package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

type updatePolicyStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// UpdatePolicyStatus implements PUT /admin/policies/{id}/{version}/status.
func UpdatePolicyStatus(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		policyID := c.Params("id")
		version := c.Params("version")

		var req updatePolicyStatusRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.New(apperr.MalformedPresentation, "request body is not valid JSON")
		}
		if req.Status == "" {
			return apperr.New(apperr.MissingField, "status is required")
		}

		if err := d.Policies.UpdateStatus(policyID, version, models.PolicyStatus(req.Status), req.Reason, req.Actor); err != nil {
			return err
		}
		return c.JSON(SuccessResponse{Success: true})
	}
}

type rotateKeyRequest struct {
	Algorithm string `json:"algorithm"`
}

// RotateKey implements POST /admin/keys/rotate.
func RotateKey(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req rotateKeyRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.New(apperr.MalformedPresentation, "request body is not valid JSON")
		}
		if req.Algorithm == "" {
			req.Algorithm = "ES256"
		}

		key, err := d.Keys.Rotate(req.Algorithm)
		if err != nil {
			return err
		}
		return c.JSON(SuccessResponse{Success: true, Data: key})
	}
}

// LedgerStats implements GET /admin/ledger/stats: anchor/DID counts and
// the active backend mode (file vs Hyperledger Fabric external), the
// way the teacher's blockchain handlers expose chain-health summaries.
func LedgerStats(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d.Ledger == nil {
			return apperr.New(apperr.SystemError, "ledger backend not configured")
		}
		stats := d.Ledger.Stats(d.Config.Ledger.Mode)
		return c.JSON(SuccessResponse{Success: true, Data: stats})
	}
}

type retireKeyRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// RetireKey implements PUT /admin/keys/{keyId}/retire.
func RetireKey(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		keyID := c.Params("keyId")

		var req retireKeyRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.New(apperr.MalformedPresentation, "request body is not valid JSON")
		}

		if err := d.Keys.Retire(keyID, req.Reason, req.Actor); err != nil {
			return err
		}
		return c.JSON(SuccessResponse{Success: true})
	}
}
