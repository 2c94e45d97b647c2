// Package api exposes the credential platform's Identity, Issuance,
// and Verification cores as thin Fiber handlers (spec.md §6) — each
// handler only parses its request, calls into the corresponding core
// package, and translates the result or error into JSON. No business
// logic lives here, matching the teacher's api.SetupAPI/api.go split
// between route wiring and handler bodies.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/config"
	"github.com/tracepost-larvae/agecred/db"
	"github.com/tracepost-larvae/agecred/identity"
	"github.com/tracepost-larvae/agecred/issuance"
	"github.com/tracepost-larvae/agecred/keymanager"
	"github.com/tracepost-larvae/agecred/ledger"
	"github.com/tracepost-larvae/agecred/middleware"
	"github.com/tracepost-larvae/agecred/policy"
	"github.com/tracepost-larvae/agecred/verification"
)

// Deps bundles every core the API layer dispatches to. One Deps is
// built per service binary in cmd/, wiring only the cores that
// service's routes actually use; the rest stay nil and simply are
// never reached from that binary's SetupRoutes call.
type Deps struct {
	Config       *config.Config
	Identity     *identity.Core
	Issuance     *issuance.Core
	Verification *verification.Core
	Policies     *policy.Registry
	Keys         *keymanager.Manager
	Ledger       ledger.Backend
	DB           *db.Conn
	Redis        *redis.Client
}

// ErrorResponse mirrors the teacher's envelope shape
// (api.ErrorResponse), translated from apperr codes instead of raw
// fiber.Error status codes.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// SuccessResponse mirrors the teacher's envelope shape for 2xx bodies.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorHandler is the Fiber app's central error handler: every handler
// that returns a non-nil error (including apperr.Error and
// fiber.Error) is funneled through here exactly once.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := string(apperr.CodeOf(err))

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	} else {
		status = statusForCode(apperr.CodeOf(err))
	}

	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return c.Status(status).JSON(ErrorResponse{
		Success:   false,
		Message:   err.Error(),
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.MissingField, apperr.MissingClaims, apperr.InvalidDateFormat, apperr.MissingAttribute,
		apperr.MissingSubjectID, apperr.InvalidSubjectID, apperr.UnsupportedPresentation,
		apperr.MalformedPresentation, apperr.UnsupportedProtocolVersion, apperr.OriginMismatch,
		apperr.ClockSkew, apperr.DowngradeRejected, apperr.BindingMismatch, apperr.PolicyMismatch,
		apperr.VCExpired, apperr.CredentialExpired, apperr.ProofInvalid:
		return fiber.StatusBadRequest
	case apperr.IssuerUntrusted, apperr.VCSignatureInvalid, apperr.CsrfRejected:
		return fiber.StatusUnauthorized
	case apperr.ReplayDetected:
		return fiber.StatusConflict
	case apperr.SessionNotFound, apperr.NotFound:
		return fiber.StatusNotFound
	case apperr.SessionExpired:
		return fiber.StatusGone
	case apperr.AlreadyExists:
		return fiber.StatusConflict
	case apperr.ZKPServiceUnavailable, apperr.LedgerUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// SetupIdentityRoutes wires the Identity API (spec.md §6): session
// start/callback/status, called by the wallet/front-end.
func SetupIdentityRoutes(app *fiber.App, d *Deps) {
	app.Get("/healthz", HealthCheck(d))

	auth := app.Group("/auth")
	auth.Post("/:providerId/start", StartSession(d))
	auth.Get("/:providerId/callback", HandleCallback(d))
	auth.Get("/session/:sessionId/status", SessionStatus(d))
}

// SetupIssuanceRoutes wires the Issuance API.
func SetupIssuanceRoutes(app *fiber.App, d *Deps) {
	app.Get("/healthz", HealthCheck(d))
	app.Post("/credentials/issue", IssueCredential(d))
}

// SetupVerificationRoutes wires the Verification API plus the
// operator-facing policy/key admin group, grouped the way the
// teacher's api.SetupAPI groups route families (public verification
// surface first, then the JWT-guarded admin group).
func SetupVerificationRoutes(app *fiber.App, d *Deps) {
	app.Get("/healthz", HealthCheck(d))
	app.Post("/verify", Verify(d))
	app.Get("/.well-known/jwks", Jwks(d))
	app.Get("/policies/:id", GetPolicy(d))

	admin := app.Group("/admin", middleware.JWTAuth(d.Config.JWT))
	admin.Put("/policies/:id/:version/status", middleware.RequireCapability(middleware.CapabilityPolicyAdmin), UpdatePolicyStatus(d))
	admin.Post("/keys/rotate", middleware.RequireCapability(middleware.CapabilityKeyAdmin), RotateKey(d))
	admin.Put("/keys/:keyId/retire", middleware.RequireCapability(middleware.CapabilityKeyAdmin), RetireKey(d))
	admin.Get("/ledger/stats", middleware.RequireCapability(middleware.CapabilityPolicyAdmin), LedgerStats(d))
}
