package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tracepost-larvae/agecred/apperr"
)

type issueCredentialRequest struct {
	AccountRef        string `json:"accountRef"`
	PolicyID          string `json:"policyId"`
	SubjectCommitment string `json:"subjectCommitment"`
}

type issueCredentialResponse struct {
	VCJwt     string    `json:"vcJwt"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueCredential implements POST /credentials/issue.
func IssueCredential(d *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req issueCredentialRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.New(apperr.MalformedPresentation, "request body is not valid JSON")
		}
		if req.AccountRef == "" || req.PolicyID == "" || req.SubjectCommitment == "" {
			return apperr.New(apperr.MissingField, "accountRef, policyId and subjectCommitment are required")
		}

		result, err := d.Issuance.IssueCredential(c.Context(), req.AccountRef, req.PolicyID, req.SubjectCommitment)
		if err != nil {
			return err
		}

		return c.JSON(SuccessResponse{
			Success: true,
			Data: issueCredentialResponse{
				VCJwt:     result.VCJwt,
				IssuedAt:  result.IssuedAt,
				ExpiresAt: result.ExpiresAt,
			},
		})
	}
}
