package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"modelproxy/internal/apierr"
)

// BodyLimit rejects requests whose declared Content-Length exceeds maxBytes
// up front, and otherwise wraps the body in http.MaxBytesReader so a
// streamed-but-oversized body fails as soon as the running total would
// exceed the cap, without ever buffering the whole thing.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			apierr.Write(c, apierr.PayloadTooLarge("request body exceeds the configured size limit"))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
