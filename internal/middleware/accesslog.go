package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"modelproxy/internal/logging"
)

// AccessLog emits one structured line per completed request. It sits after
// RequestID in the chain so every line carries the request id.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.WithReq(c, log.Fields{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"bytes":       c.Writer.Size(),
		}).Info("request completed")
	}
}
