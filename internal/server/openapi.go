package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// openapiDoc describes only this proxy's own meta endpoints (health, models,
// stream replay); each upstream continues to publish its own openapi.json at
// its base_url, and this proxy never aggregates or re-publishes those.
var openapiDoc = gin.H{
	"openapi": "3.0.0",
	"info": gin.H{
		"title":   "model-aware inference proxy",
		"version": "1.0.0",
	},
	"paths": gin.H{
		"/health":                        gin.H{"get": gin.H{"summary": "aggregated upstream health"}},
		"/v1/models":                     gin.H{"get": gin.H{"summary": "aggregated model listing"}},
		"/internal/streams/{stream_key}": gin.H{"get": gin.H{"summary": "replay a mirrored SSE stream"}},
	},
}

func serveOpenAPI(c *gin.Context) {
	c.JSON(http.StatusOK, openapiDoc)
}
