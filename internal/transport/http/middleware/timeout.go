package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/apperr"
)

// Timeout 只给下游 context 加期限；处理器未写响应时补 504
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
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			abortKind(c, apperr.Timeout, "")
		}
	}
}
