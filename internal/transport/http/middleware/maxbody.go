package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/apperr"
)

// MaxBodyBytes 限制请求体大小；声明长度超限的直接 413，其余由 MaxBytesReader 在读取时截断
func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			abortKind(c, apperr.BodyTooLarge, "")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
