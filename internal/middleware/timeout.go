package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout derives a deadline-carrying context for the request so every
// downstream repository and storage call is bounded. An overrun surfaces
// through the service layer as a TIMEOUT error.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
