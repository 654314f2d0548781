// Package middleware provides the HTTP middleware chain: identity, logging, metrics, tracing and rate limiting.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"campuspulse/internal/config"
	"campuspulse/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingSubject = errors.New("invalid token structure - missing subject")
	errSubjectType    = errors.New("invalid token subject type")
	errSubjectValue   = errors.New("invalid user ID in token")
)

// ParseUserToken validates an HMAC-signed JWT and returns the identity in its "sub" claim.
// Identity issuance lives outside this service; the core only trusts verified subjects.
func ParseUserToken(tokenString, secret string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, jwt.ErrTokenInvalidClaims
	}

	subClaim, ok := claims["sub"]
	if !ok {
		return 0, errMissingSubject
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return 0, errSubjectType
	}

	userID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userID == 0 {
		return 0, errSubjectValue
	}
	return uint(userID), nil
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	token, ok := strings.CutPrefix(c.Get("Authorization"), "Bearer ")
	return token, ok && token != "" && !strings.Contains(token, " ")
}

func unauthorized(c *fiber.Ctx, message string) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(message))
}

// authenticate verifies token and stores the identity in locals under "userID".
func authenticate(c *fiber.Ctx, token string) error {
	userID, err := ParseUserToken(token, cfg.JWTSecret)
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}
	c.Locals("userID", userID)
	c.SetUserContext(WithUserID(c.UserContext(), userID))
	return c.Next()
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" {
		return unauthorized(c, "Authorization header required")
	}
	token, ok := bearerToken(c)
	if !ok {
		return unauthorized(c, "Invalid authorization header format")
	}
	return authenticate(c, token)
}

// WebSocketAuthRequired reads the token from the query string, since browsers cannot set
// headers on an upgrade request, and falls back to the Authorization header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		var ok bool
		if token, ok = bearerToken(c); !ok {
			return unauthorized(c, "Token required")
		}
	}
	return authenticate(c, token)
}
