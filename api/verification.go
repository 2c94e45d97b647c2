package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// verifyRequestBody is the wire shape of POST /verify; it maps 1:1 onto
// models.VerificationRequest's fields but carries json tags, since the
// core type is shared with internal callers that don't need them.
type verifyRequestBody struct {
	ContractVersion  string                      `json:"contractVersion"`
	PolicyID         string                      `json:"policyId"`
	PresentationType models.PresentationType     `json:"presentationType"`
	Presentation     models.PresentationEnvelope `json:"presentation"`
	Challenge        string                      `json:"challenge"`
	ExpectedOrigin   string                      `json:"expectedOrigin"`
}

// Verify implements POST /verify. Business-rule rejections are never
// routed through ErrorHandler: VerificationCore.Verify always returns a
// 200 envelope carrying Valid=false and reasonCodes, per spec.md §4.8.
func Verify(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body verifyRequestBody
		if err := c.BodyParser(&body); err != nil {
			return apperr.New(apperr.MalformedPresentation, "request body is not valid JSON")
		}

		req := models.VerificationRequest{
			ContractVersion:  body.ContractVersion,
			PolicyID:         body.PolicyID,
			PresentationType: body.PresentationType,
			Presentation:     body.Presentation,
			Challenge:        body.Challenge,
			ExpectedOrigin:   body.ExpectedOrigin,
		}

		result := d.Verification.Verify(c.Context(), req)
		return c.JSON(SuccessResponse{Success: true, Data: result})
	}
}

// Jwks implements GET /.well-known/jwks.
func Jwks(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		set, err := d.Keys.GetJwks()
		if err != nil {
			return err
		}
		return c.JSON(set)
	}
}
