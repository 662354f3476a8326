// Package app 组装依赖：配置 -> 存储 -> 缓存 -> 服务 -> 路由。两个入口共用。
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ez-parking/internal/core/auth"
	"ez-parking/internal/core/cache"
	"ez-parking/internal/core/config"
	"ez-parking/internal/core/database"
	"ez-parking/internal/core/mailer"
	"ez-parking/internal/core/qrcode"
	"ez-parking/internal/core/tracing"
	"ez-parking/internal/domain"
	"ez-parking/internal/realtime"
	"ez-parking/internal/repo"
	"ez-parking/internal/repo/memrepo"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
	"ez-parking/internal/transport/http/router"
	"ez-parking/internal/worker"
)

type App struct {
	Cfg   *config.Config
	Log   *zap.Logger
	Store domain.Store
	Cache *cache.Cache
	Svc   *service.Services
	Hub   *realtime.Hub
	Deps  *router.Deps

	closers []func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config, l *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: l}

	shutdownTrace, err := tracing.Init(ctx, l, cfg.App.Name, cfg.App.Env, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTrace)

	if err := a.openStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Cache = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if cfg.Redis.Addr != "" {
		if err := a.Cache.Ping(ctx); err != nil {
			// redis 只做缓存与限流，连不上继续跑
			l.Warn("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		a.closers = append(a.closers, func(context.Context) error { return a.Cache.Close() })
	}

	jwter := &auth.JWTer{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	}
	a.Hub = realtime.NewHub(l, cfg.CORS.AllowOrigins)
	a.Svc = service.New(service.Deps{
		Store: a.Store,
		JWT:   jwter,
		QR:    &qrcode.Signer{Secret: []byte(cfg.QR.Secret), Issuer: cfg.JWT.Issuer, TTL: time.Duration(cfg.QR.TTLMin) * time.Minute},
		Cache: a.Cache,
		Mail:  mailer.New(cfg.Mail, l),
		Pub:   a.Hub,
		Log:   l,
		Auth: service.AuthOptions{
			OTPTTL:        time.Duration(cfg.OTP.TTLMin) * time.Minute,
			VerifyTTL:     time.Duration(cfg.OTP.VerifyTTLHour) * time.Hour,
			OTPRateLimit:  cfg.OTP.RateLimit,
			OTPRateWindow: time.Duration(cfg.OTP.RateWindowSec) * time.Second,
			BaseURL:       cfg.App.BaseURL,
		},
	})
	a.Deps = &router.Deps{
		Svc:   a.Svc,
		Store: a.Store,
		Cache: a.Cache,
		JWT:   jwter,
		Hub:   a.Hub,
		Cookies: mdw.CookieOptions{
			Domain:   cfg.JWT.Cookie.Domain,
			Secure:   cfg.JWT.Cookie.Secure,
			SameSite: mdw.ParseSameSite(cfg.JWT.Cookie.SameSite),
		},
		Log:     l,
		Origins: cfg.CORS.AllowOrigins,
		Limits:  cfg.Limits,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Cfg.DB
	if cfg.Driver == "memory" {
		a.Log.Warn("using in-memory store, data is lost on restart")
		a.Store = memrepo.New()
		return nil
	}
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.Driver,
		DSN:                cfg.DSN,
		Username:           cfg.Username,
		Password:           cfg.Password,
		MaxOpenConns:       cfg.MaxOpenConns,
		MaxIdleConns:       cfg.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.ConnMaxLifetimeMin,
		LogLevel:           cfg.LogLevel,
		Log:                a.Log,
	})
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return database.Close(db) })
	if err := database.Ping(ctx, db); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	a.Log.Info("database connected", zap.String("driver", cfg.Driver))

	if cfg.AutoMigrate {
		if err := repo.Migrate(db); err != nil {
			return fmt.Errorf("automigrate: %w", err)
		}
		a.Log.Info("automigrate done")
	}
	a.Store = repo.NewStore(db)
	return nil
}

// Sweeper 过期预约清理，只在用户端进程里跑
func (a *App) Sweeper() *worker.Sweeper {
	return worker.NewSweeper(a.Svc.Transactions, a.Log,
		time.Duration(a.Cfg.Worker.ReservationTTLMin)*time.Minute,
		time.Duration(a.Cfg.Worker.SweepIntervalSec)*time.Second)
}

// Close 逆序释放
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
