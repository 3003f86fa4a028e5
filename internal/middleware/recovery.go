package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"modelproxy/internal/apierr"
)

// Recovery converts a panic anywhere downstream into a 500 error envelope
// instead of tearing down the connection, logging the stack for diagnosis.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"error":  r,
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("panic recovered")

				apierr.Write(c, apierr.New(500, "api_error", "internal_error", "internal server error"))
			}
		}()
		c.Next()
	}
}
