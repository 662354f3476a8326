package middleware

import (
	"github.com/gin-gonic/gin"

	"ez-parking/internal/apperr"
	resp "ez-parking/internal/transport/http/response"
)

// abortKind 中间件统一出口，状态码由错误种类决定
func abortKind(c *gin.Context, k apperr.Kind, msg string) {
	status, body := resp.FromError(apperr.New(k, msg))
	c.AbortWithStatusJSON(status, body)
}
