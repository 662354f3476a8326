package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
	"ez-parking/internal/core/cache"
	"ez-parking/internal/core/config"
	"ez-parking/internal/core/server"
	"ez-parking/internal/domain"
	"ez-parking/internal/realtime"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
	resp "ez-parking/internal/transport/http/response"
)

// Deps 两个引擎共用
type Deps struct {
	Svc     *service.Services
	Store   domain.Store
	Cache   *cache.Cache // 可为 nil
	JWT     *auth.JWTer
	Hub     *realtime.Hub
	Cookies mdw.CookieOptions
	Log     *zap.Logger
	Origins []string
	Limits  config.Limits
}

func (d *Deps) modules() *Registry {
	return new(Registry).Register(
		authModule{d},
		userModule{d},
		managerModule{d},
		adminModule{d},
	)
}

// common 默认值与配置互补，零值不生效
func common(d *Deps) []gin.HandlerFunc {
	lim := d.Limits
	if lim.RPS <= 0 {
		lim.RPS, lim.Burst = 200, 400
	}
	if lim.PerIPRPS <= 0 {
		lim.PerIPRPS, lim.PerIPBurst = 20, 40
	}
	if lim.Concurrency <= 0 {
		lim.Concurrency = 300
	}
	if lim.MaxBodyMB <= 0 {
		lim.MaxBodyMB = 16
	}
	if lim.TimeoutSec <= 0 {
		lim.TimeoutSec = 10
	}
	return []gin.HandlerFunc{
		mdw.RequestID(),
		mdw.RateLimit(rate.Limit(lim.RPS), lim.Burst),
		mdw.RateLimitPerIP(rate.Limit(lim.PerIPRPS), lim.PerIPBurst),
		mdw.ConcurrencyLimit(lim.Concurrency),
		mdw.MaxBodyBytes(lim.MaxBodyMB << 20),
		mdw.Timeout(time.Duration(lim.TimeoutSec) * time.Second),
		mdw.Metrics(),
		mdw.AccessLog(d.Log),
	}
}

func noRoute(c *gin.Context) {
	status, body := resp.FromError(apperr.New(apperr.RouteNotFound, ""))
	c.JSON(status, body)
}

func NewAPIEngine(d *Deps) *gin.Engine {
	RegisterValidators()

	r := server.NewRouter(d.Log, d.Origins, mdw.PanicResponse())
	r.Use(common(d)...)

	// 健康检查
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.NoRoute(noRoute)

	d.modules().MountAllAPI(&r.RouterGroup)
	return r
}
