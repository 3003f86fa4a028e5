package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"modelproxy/internal/apierr"
)

// exemptPaths never require a bearer token: docs, the openapi document, the
// public health check, and the public model listing. /v1/realtime is also
// exempt here because the WebSocket forwarder enforces its own bearer check
// and reports failure via close code 4401 instead of an HTTP response.
var exemptPaths = map[string]struct{}{
	"/docs":         {},
	"/openapi.json": {},
	"/health":       {},
	"/v1/models":    {},
	"/v1/realtime":  {},
}

func isExempt(path string) bool {
	if _, ok := exemptPaths[path]; ok {
		return true
	}
	return strings.HasPrefix(path, "/docs/")
}

// Auth enforces a bearer check on every non-exempt HTTP route.
// token must be non-empty whenever required is true — the caller is
// responsible for failing startup otherwise.
func Auth(required bool, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !required || c.Request.Method == "OPTIONS" || isExempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || strings.TrimSpace(auth[len(prefix):]) != token {
			apierr.Write(c, apierr.Unauthorized("missing or invalid bearer token"))
			return
		}

		c.Next()
	}
}
