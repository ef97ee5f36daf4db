package logger

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RequestIDKey is the context key the request-id middleware stores under.
const RequestIDKey = "X-Request-ID"

// FromContext returns the request-scoped logger. When the middleware has
// not attached one, the global logger is used with the request id field
// added so every handler line stays correlatable.
func FromContext(c echo.Context) *zap.Logger {
	if l, ok := c.Get("logger").(*zap.Logger); ok {
		return l
	}

	id, ok := c.Get(RequestIDKey).(string)
	if !ok {
		id = c.Request().Header.Get(RequestIDKey)
		if id == "" {
			id = "unknown"
		}
	}
	return GetLogger().With(zap.String("request_id", id))
}
