package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
	"ez-parking/internal/domain"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
)

// adminModule 两个引擎都挂：公开端口和运维端口
type adminModule struct{ d *Deps }

func (adminModule) Priority() int { return 40 }

type pageQ struct {
	Offset int `form:"offset" binding:"gte=0"`
	Limit  int `form:"limit" binding:"gte=0,lte=100"`
}

func (q pageQ) limit() int {
	if q.Limit == 0 {
		return 20
	}
	return q.Limit
}

type plateIn struct {
	PlateNumber string `json:"plate_number" binding:"required,plate"`
}

type plateQ struct {
	PlateNumber string `form:"plate_number" binding:"required,plate"`
}

type userIn struct {
	UserUUID string `json:"user_uuid" binding:"required,uuid"`
}

func (m adminModule) MountAPI(root *gin.RouterGroup)   { m.mount(root) }
func (m adminModule) MountAdmin(root *gin.RouterGroup) { m.mount(root) }

func (m adminModule) mount(root *gin.RouterGroup) {
	d := m.d
	g := root.Group("/api/v1/admin",
		mdw.AuthJWT(d.JWT),
		mdw.RequireRoles("Admin required.", string(domain.RoleAdmin)),
	)
	ez := New(g, d.Store, d.Log)

	// 封禁
	RegisterAction(ez, Action[service.BanPlateInput, *domain.BannedPlate]{
		Method: http.MethodPost, Path: "/ban-plate-number", Binder: BindJSON, UseTx: true,
		Status: http.StatusCreated, Msg: "Plate number banned successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.BanPlateInput) (*domain.BannedPlate, error) {
			return d.Svc.Admin.BanPlate(c.Request.Context(), actor(c, cl), *in)
		},
	})
	RegisterAction(ez, Action[plateIn, struct{}]{
		Method: http.MethodPost, Path: "/unban-plate-number", Binder: BindJSON, UseTx: true,
		Status: http.StatusCreated, Msg: "Plate number unbanned successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *plateIn) (struct{}, error) {
			return struct{}{}, d.Svc.Admin.UnbanPlate(c.Request.Context(), actor(c, cl), in.PlateNumber)
		},
	})
	RegisterAction(ez, Action[pageQ, *service.Page[domain.BannedPlate]]{
		Method: http.MethodGet, Path: "/banned-plates", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *pageQ) (*service.Page[domain.BannedPlate], error) {
			return d.Svc.Admin.ListBannedPlates(c.Request.Context(), in.Offset, in.limit())
		},
	})
	RegisterAction(ez, Action[service.BanUserInput, *domain.UserBan]{
		Method: http.MethodPost, Path: "/ban-user", Binder: BindJSON, UseTx: true,
		Status: http.StatusCreated, Msg: "User banned successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.BanUserInput) (*domain.UserBan, error) {
			return d.Svc.Admin.BanUser(c.Request.Context(), actor(c, cl), *in)
		},
	})
	RegisterAction(ez, Action[userIn, struct{}]{
		Method: http.MethodPost, Path: "/unban-user", Binder: BindJSON, UseTx: true,
		Status: http.StatusCreated, Msg: "User unbanned successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *userIn) (struct{}, error) {
			return struct{}{}, d.Svc.Admin.UnbanUser(c.Request.Context(), actor(c, cl), in.UserUUID)
		},
	})
	RegisterAction(ez, Action[pageQ, *service.Page[domain.UserBan]]{
		Method: http.MethodGet, Path: "/user-bans", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *pageQ) (*service.Page[domain.UserBan], error) {
			return d.Svc.Admin.ListUserBans(c.Request.Context(), in.Offset, in.limit())
		},
	})

	// 车位与停车场
	RegisterAction(ez, Action[service.SlotInput, *domain.Slot]{
		Method: http.MethodPost, Path: "/add-slot", Binder: BindJSON,
		Status: http.StatusCreated, Msg: "Slot added successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.SlotInput) (*domain.Slot, error) {
			return d.Svc.Slots.AddSlot(c.Request.Context(), actor(c, cl), *in)
		},
	})
	RegisterAction(ez, Action[service.SlotUpdate, *domain.Slot]{
		Method: http.MethodPatch, Path: "/update-slot", Binder: BindJSON,
		Msg: "Slot updated successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.SlotUpdate) (*domain.Slot, error) {
			return d.Svc.Slots.UpdateSlot(c.Request.Context(), actor(c, cl), *in)
		},
	})
	RegisterAction(ez, Action[service.EstablishmentInput, *domain.Establishment]{
		Method: http.MethodPost, Path: "/establishments", Binder: BindJSON,
		Status: http.StatusCreated, Msg: "Establishment created successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.EstablishmentInput) (*domain.Establishment, error) {
			return d.Svc.Establishments.Create(c.Request.Context(), actor(c, cl), *in)
		},
	})
	RegisterAction(ez, Action[service.EstablishmentPatch, *domain.Establishment]{
		Method: http.MethodPatch, Path: "/establishments/:uuid", Binder: BindJSON,
		Msg: "Establishment updated successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.EstablishmentPatch) (*domain.Establishment, error) {
			return d.Svc.Establishments.Update(c.Request.Context(), actor(c, cl), c.Param("uuid"), *in)
		},
	})
	RegisterAction(ez, Action[struct{}, struct{}]{
		Method: http.MethodDelete, Path: "/establishments/:uuid", Binder: BindNone,
		Msg: "Establishment deleted successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) (struct{}, error) {
			return struct{}{}, d.Svc.Establishments.Delete(c.Request.Context(), actor(c, cl), c.Param("uuid"))
		},
	})
	RegisterAction(ez, Action[service.VehicleTypeInput, *domain.VehicleType]{
		Method: http.MethodPost, Path: "/vehicle-types", Binder: BindJSON,
		Status: http.StatusCreated, Msg: "Vehicle type created successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.VehicleTypeInput) (*domain.VehicleType, error) {
			return d.Svc.VehicleTypes.Create(c.Request.Context(), actor(c, cl), *in)
		},
	})

	// 查询
	RegisterAction(ez, Action[plateQ, []service.TransactionDetail]{
		Method: http.MethodGet, Path: "/transactions", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *plateQ) ([]service.TransactionDetail, error) {
			return d.Svc.Transactions.ListByPlate(c.Request.Context(), in.PlateNumber)
		},
	})
	RegisterAction(ez, Action[pageQ, *service.Page[domain.AuditLog]]{
		Method: http.MethodGet, Path: "/audit-logs", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *pageQ) (*service.Page[domain.AuditLog], error) {
			return d.Svc.Admin.AuditLogs(c.Request.Context(), in.Offset, in.limit())
		},
	})
}
