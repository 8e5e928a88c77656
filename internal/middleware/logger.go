package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		reqID, _ := c.Locals(CtxRequestID).(string)
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		// Auth runs inside c.Next(), so the org local is set by now on
		// protected routes.
		if orgID, ok := c.Locals(CtxOrgID).(uuid.UUID); ok {
			fields = append(fields, zap.String("org_id", orgID.String()))
		}
		log.Info("request", fields...)

		return err
	}
}
