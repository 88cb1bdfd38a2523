package middleware

import (
	"github.com/ErlanBelekov/notify-scheduler/internal/requestid"
	"github.com/gin-gonic/gin"
)

const maxRequestIDLen = 128

// RequestID attaches a correlation id to the request context and echoes it in
// X-Request-ID. A caller-supplied id is kept unless it is empty or too long.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = requestid.New()
		}

		c.Request = c.Request.WithContext(requestid.WithRequestID(c.Request.Context(), id))
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
