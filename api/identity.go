package api

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"
	"github.com/skip2/go-qrcode"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// qrCodeSize is the pixel size of the wallet-scannable QR code embedded
// in the start-session response: 256px, half the teacher's 512px
// default (api/qr_code.go).
const qrCodeSize = 256

// startSessionRequest is the optional body /auth/{providerId}/start
// accepts; accountRef lets a caller pre-correlate the session to an
// existing account the way IssuanceCore later looks attestations up
// by accountRef.
type startSessionRequest struct {
	AccountRef string `json:"accountRef"`
}

// StartSession implements POST /auth/{providerId}/start.
func StartSession(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		providerID := c.Params("providerId")
		var req startSessionRequest
		_ = c.BodyParser(&req) // an empty body is valid; accountRef is optional

		authURL, sessionID, err := d.Identity.Start(c.Context(), providerID, req.AccountRef)
		if err != nil {
			return err
		}
		data := map[string]string{
			"authUrl":   authURL,
			"sessionId": sessionID,
		}
		if png, err := qrcode.Encode(authURL, qrcode.Medium, qrCodeSize); err == nil {
			data["authUrlQrPng"] = base64.StdEncoding.EncodeToString(png)
		}
		return c.JSON(SuccessResponse{
			Success: true,
			Data:    data,
		})
	}
}

// HandleCallback implements GET /auth/{providerId}/callback?sessionId.
// On every outcome it redirects to the configured frontend rather than
// returning JSON, since this endpoint is reached via browser redirect
// from the eID hub.
func HandleCallback(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		providerID := c.Params("providerId")
		sessionID := c.Query("sessionId")
		if sessionID == "" {
			return redirectOutcome(c, d, "error", "missing sessionId")
		}

		outcome, err := d.Identity.HandleCallback(c.Context(), providerID, sessionID)
		if err != nil {
			return redirectOutcome(c, d, "error", string(apperr.CodeOf(err)))
		}

		switch outcome.Status {
		case models.SessionSucceeded:
			return redirectOutcome(c, d, "success", "")
		case models.SessionAborted:
			return redirectOutcome(c, d, "abort", "")
		default:
			return redirectOutcome(c, d, "error", string(outcome.Status))
		}
	}
}

func redirectOutcome(c *fiber.Ctx, d *Deps, outcome, detail string) error {
	target := d.Config.Server.FrontendBaseURL + "/auth/" + outcome
	if detail != "" {
		target += "?reason=" + detail
	}
	return c.Redirect(target, fiber.StatusFound)
}

// SessionStatus implements GET /auth/session/{sessionId}/status.
func SessionStatus(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		exists, err := d.Identity.SessionExists(c.Context(), sessionID)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.New(apperr.SessionNotFound, "session not found or already finalized")
		}
		return c.JSON(SuccessResponse{
			Success: true,
			Data:    map[string]string{"status": "Pending"},
		})
	}
}
