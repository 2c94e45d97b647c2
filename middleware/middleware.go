// Package middleware guards the platform's internal admin endpoints
// (policy status transitions, key retirement) the way the teacher
// guards its company/admin routes, adapted per spec.md §9's redesign
// note: decorator-based authorization becomes a middleware predicate
// evaluated at entry, expressed as a tagged variant naming the required
// capability rather than a role string.
package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"

	"github.com/tracepost-larvae/agecred/config"
)

// Capability is the tagged-variant authorization unit: an admin JWT
// carries zero or more of these in its capabilities claim, and a route
// declares the one it requires.
type Capability string

const (
	CapabilityPolicyAdmin Capability = "policy:admin"
	CapabilityKeyAdmin    Capability = "key:admin"
)

// AdminClaims is the JWT payload this platform's operator tooling
// mints for admin callers.
type AdminClaims struct {
	Subject      string   `json:"sub"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

func (c AdminClaims) has(cap Capability) bool {
	for _, have := range c.Capabilities {
		if have == string(cap) {
			return true
		}
	}
	return false
}

const claimsLocalsKey = "adminClaims"

// JWTAuth parses and validates the Authorization bearer token, storing
// the decoded AdminClaims in Locals for RequireCapability to read.
func JWTAuth(cfg config.JWTConfig) fiber.Handler {
	secret := []byte(cfg.Secret)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization format, expected 'Bearer <token>'")
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		var claims AdminClaims
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired admin token")
		}
		if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token issuer")
		}

		c.Locals(claimsLocalsKey, claims)
		return c.Next()
	}
}

// RequireCapability rejects with 403 unless the caller's admin token
// carries cap. Must run after JWTAuth.
func RequireCapability(cap Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(claimsLocalsKey).(AdminClaims)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "admin authentication required")
		}
		if !claims.has(cap) {
			return fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("missing required capability '%s'", cap))
		}
		return c.Next()
	}
}

// RequestLogger logs each request's method/path/status/duration through
// safelog at Info level, mirroring the teacher's LoggerMiddleware shape
// but routed through the PII-redacting logger instead of raw stdout.
func RequestLogger(logFn func(event string, fields map[string]any)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logFn("http.request", map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return err
	}
}
