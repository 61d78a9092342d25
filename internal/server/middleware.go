package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"kakigoori/internal/auth"
)

const authKeyContextKey = "auth_key"

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// requireCapability rejects requests whose Authorization key lacks capability.
func (s *Server) requireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := s.gate.Authorize(c.Request.Context(), c.GetHeader("Authorization"), capability)
		if err != nil {
			s.writeError(c, err)
			c.Abort()
			return
		}
		c.Set(authKeyContextKey, key)
		c.Next()
	}
}
