package middleware

import (
	"github.com/gin-gonic/gin"

	"ez-parking/internal/apperr"
)

// PanicResponse 交给 ginzap.CustomRecoveryWithZap；日志和堆栈由 ginzap 负责
func PanicResponse() gin.RecoveryFunc {
	return func(c *gin.Context, _ any) {
		abortKind(c, apperr.UnexpectedError, "")
	}
}
