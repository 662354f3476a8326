package router

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mdw "ez-parking/internal/transport/http/middleware"
)

// NewAdminEngine 运维端口：探针、指标，另挂一份管理接口
func NewAdminEngine(d *Deps) *gin.Engine {
	RegisterValidators()

	r := gin.New()
	r.Use(ginzap.CustomRecoveryWithZap(d.Log, true, mdw.PanicResponse()))
	r.Use(ginzap.GinzapWithConfig(d.Log.Named("ops"), &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		SkipPaths:  []string{"/metrics", "/health"},
	}))
	r.Use(mdw.RequestID(), mdw.Metrics())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"db": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := d.Store.Ping(ctx); err != nil {
			d.Log.Warn("db not ready", zap.Error(err))
			checks["db"], status = err.Error(), http.StatusServiceUnavailable
		}
		if err := d.Cache.Ping(ctx); err != nil {
			d.Log.Warn("redis not ready", zap.Error(err))
			checks["redis"], status = err.Error(), http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(noRoute)

	d.modules().MountAllAdmin(&r.RouterGroup)
	return r
}
