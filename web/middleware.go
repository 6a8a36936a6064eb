package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// CorsMiddleware handles CORS headers for cross-origin requests
func CorsMiddleware(c rweb.Context) error {
	c.Response().SetHeader("Access-Control-Allow-Origin", "*")
	c.Response().SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	c.Response().SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

	// Handle preflight OPTIONS requests
	if c.Request().Method() == "OPTIONS" {
		c.SetStatus(http.StatusOK)
		return nil
	}

	return c.Next()
}

// AuthMiddleware sets user_id and authenticated in the context. With tokens
// it validates the Bearer token; without, every request acts as deviceUser.
// It never blocks; each handler checks the user.
func AuthMiddleware(tokens *Tokens, deviceUser string) rweb.Handler {
	if tokens == nil {
		return func(c rweb.Context) error {
			c.Set("user_id", deviceUser)
			c.Set("authenticated", true)
			return c.Next()
		}
	}
	return func(c rweb.Context) error {
		return jwtAuth(c, tokens)
	}
}

func jwtAuth(c rweb.Context, tokens *Tokens) error {
	authHeader := c.Request().Header("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		c.Set("user_id", "")
		c.Set("authenticated", false)
		return c.Next()
	}

	claims, err := tokens.Validate(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		// Don't log every invalid token attempt
		c.Set("user_id", "")
		c.Set("authenticated", false)
		return c.Next()
	}

	c.Set("user_id", claims.UserID)
	c.Set("authenticated", true)
	return c.Next()
}

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware(c rweb.Context) error {
	c.Response().SetHeader("X-Content-Type-Options", "nosniff")
	c.Response().SetHeader("X-Frame-Options", "DENY")
	c.Response().SetHeader("Referrer-Policy", "strict-origin-when-cross-origin")

	csp := []string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src 'self' ws: wss:",
	}
	c.Response().SetHeader("Content-Security-Policy", strings.Join(csp, "; "))

	return c.Next()
}

// LoggingMiddleware provides detailed request logging
func LoggingMiddleware(c rweb.Context) error {
	start := time.Now()

	logger.Debug("Request started",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
	)

	err := c.Next()

	logger.Debug("Request completed",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
		"duration", time.Since(start),
		"error", err,
	)

	return err
}
