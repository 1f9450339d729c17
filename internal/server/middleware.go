package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// deviceIDKey is the echo context key holding the requesting device ID.
const deviceIDKey = "device_id"

// DefaultDeviceID is used when a client sends no X-Device-ID header.
const DefaultDeviceID = "default"

// AuthMiddleware validates the master key on every request except the
// listed public paths.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || slices.Contains(skipPaths, c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, authError("missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return c.JSON(http.StatusUnauthorized, authError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			if strings.TrimPrefix(authHeader, prefix) != masterKey {
				return c.JSON(http.StatusUnauthorized, authError("invalid master key"))
			}

			return next(c)
		}
	}
}

func authError(message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "authentication_error",
			"message": message,
		},
	}
}

// DeviceMiddleware reads the X-Device-ID header into the request context.
// Conversations and usage are scoped per device.
func DeviceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			deviceID := strings.TrimSpace(c.Request().Header.Get("X-Device-ID"))
			if deviceID == "" {
				deviceID = DefaultDeviceID
			}
			c.Set(deviceIDKey, deviceID)
			return next(c)
		}
	}
}

// DeviceID returns the requesting device ID set by DeviceMiddleware.
func DeviceID(c echo.Context) string {
	if id, ok := c.Get(deviceIDKey).(string); ok && id != "" {
		return id
	}
	return DefaultDeviceID
}
