package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
	"ez-parking/internal/domain"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
)

// managerModule 扫码入场/出场，营业时间
type managerModule struct{ d *Deps }

func (managerModule) Priority() int { return 30 }

type qrIn struct {
	QRContent string `json:"qr_content" binding:"required"`
}

type qrQ struct {
	QRContent string `form:"qr_content" binding:"required"`
}

func (m managerModule) MountAPI(root *gin.RouterGroup) {
	d := m.d
	g := root.Group("/api/v1/parking-manager",
		mdw.AuthJWT(d.JWT),
		mdw.RequireRoles("Parking manager or admin required.", string(domain.RoleParkingManager), string(domain.RoleAdmin)),
	)
	ez := New(g, d.Store, d.Log)

	RegisterAction(ez, Action[qrIn, *domain.Transaction]{
		Method: http.MethodPatch, Path: "/validate/entry", Binder: BindJSON,
		Msg: "Entry validated.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *qrIn) (*domain.Transaction, error) {
			return d.Svc.Transactions.VerifyEntry(c.Request.Context(), actor(c, cl), in.QRContent)
		},
	})

	RegisterAction(ez, Action[qrIn, *domain.Transaction]{
		Method: http.MethodPatch, Path: "/validate/exit", Binder: BindJSON,
		Msg: "Exit validated.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *qrIn) (*domain.Transaction, error) {
			return d.Svc.Transactions.VerifyExit(c.Request.Context(), actor(c, cl), in.QRContent)
		},
	})

	RegisterAction(ez, Action[qrQ, *service.QROverview]{
		Method: http.MethodGet, Path: "/qr-content/overview", Binder: BindQuery,
		Handler: func(c *gin.Context, cl *auth.Claims, in *qrQ) (*service.QROverview, error) {
			return d.Svc.Transactions.Overview(c.Request.Context(), actor(c, cl), in.QRContent)
		},
	})

	RegisterAction(ez, Action[struct{}, []domain.Establishment]{
		Method: http.MethodGet, Path: "/get-establishment", Binder: BindNone,
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) ([]domain.Establishment, error) {
			return d.Svc.Establishments.Managed(c.Request.Context(), actor(c, cl))
		},
	})

	RegisterAction(ez, Action[struct{}, []service.OperatingHours]{
		Method: http.MethodGet, Path: "/get-operating-hours", Binder: BindNone,
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) ([]service.OperatingHours, error) {
			return d.Svc.Establishments.OperatingHours(c.Request.Context(), actor(c, cl))
		},
	})

	RegisterAction(ez, Action[service.OperatingHoursInput, *service.OperatingHours]{
		Method: http.MethodPatch, Path: "/update-operating-hours", Binder: BindJSON,
		Msg: "Operating hours updated.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.OperatingHoursInput) (*service.OperatingHours, error) {
			return d.Svc.Establishments.UpdateOperatingHours(c.Request.Context(), actor(c, cl), *in)
		},
	})
}
