package apierr

import "github.com/gin-gonic/gin"

// Write aborts the gin context with the error's status and OpenAI-shaped
// envelope body.
func Write(c *gin.Context, err *APIError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToEnvelope())
}
