package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxRequestBody caps the body Gin will read for any request, rejecting
// oversized payloads at the HTTP read level before JSON binding runs,
// mirroring the teacher's BodyLimit(2 MB) middleware.
const maxRequestBody = 2 * 1024 * 1024

// bodyLimit bounds the size of the request body.
func bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	}
}

// securityHeaders sets the standard response headers the teacher's own
// securityHeaders middleware sets.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}
