package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
	"github.com/ManuelReschke/PlanPay/internal/pkg/usercontext"
)

// AuthConfig holds the settings for verifying bearer tokens. Tokens are
// issued by the account service; this service only verifies them.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// LoadAuthConfig reads JWT_* settings from the environment
func LoadAuthConfig() AuthConfig {
	cfg := AuthConfig{
		Secret:   env.GetEnv("JWT_SECRET", ""),
		Issuer:   env.GetEnv("JWT_ISSUER", ""),
		Audience: env.GetEnv("JWT_AUDIENCE", ""),
	}
	if cfg.Secret == "" {
		log.Warn("[Auth] JWT_SECRET not set, all API requests will be anonymous")
	}
	return cfg
}

// Claims are the token claims the billing API reads
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserContextMiddleware sets up the user context for every request from an
// optional bearer token. Invalid or missing tokens yield an anonymous context;
// RequireAPIAuth rejects those on protected routes.
func UserContextMiddleware(cfg AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" || cfg.Secret == "" {
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}

		uc, err := parseToken(cfg, token)
		if err != nil {
			log.Debugf("[Auth] Rejected bearer token: %v", err)
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}

		usercontext.SetUserContext(c, uc)
		return c.Next()
	}
}

func parseToken(cfg AuthConfig, raw string) (usercontext.UserContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return usercontext.UserContext{}, err
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return usercontext.UserContext{}, errors.New("subject is not a user id")
	}
	if userID > uint64(^uint(0)) {
		return usercontext.UserContext{}, fmt.Errorf("user id %d out of range", userID)
	}

	return usercontext.UserContext{
		UserID:     uint(userID),
		Email:      claims.Email,
		Username:   claims.Name,
		IsLoggedIn: true,
	}, nil
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
