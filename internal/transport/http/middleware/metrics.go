package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/metrics"
)

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			// 未匹配路由统一归一，避免 label 爆炸
			path = "unmatched"
		}
		metrics.ObserveHTTP(path, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
