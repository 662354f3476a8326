package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
	"ez-parking/internal/domain"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
)

// userModule /api/v1：公开查询 + 用户预约
type userModule struct{ d *Deps }

func (userModule) Priority() int { return 20 }

type establishmentsQ struct {
	Latitude  *float64 `form:"latitude" binding:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `form:"longitude" binding:"omitempty,gte=-180,lte=180"`
	Is24Hours bool     `form:"is_24_hours"`
	Search    string   `form:"search" binding:"max=100"`
}

type slotsQ struct {
	EstablishmentID uint   `form:"establishment_id"`
	VehicleSize     string `form:"vehicle_size"`
}

type formQ struct {
	EstablishmentUUID string `form:"establishment_uuid" binding:"required,uuid"`
	SlotCode          string `form:"slot_code" binding:"required"`
}

type txQ struct {
	TransactionUUID string `form:"transaction_uuid" binding:"required,uuid"`
}

type txIn struct {
	TransactionUUID string `json:"transaction_uuid" binding:"required,uuid"`
}

func (m userModule) MountAPI(root *gin.RouterGroup) {
	d := m.d
	api := root.Group("/api/v1")
	pub := New(api, d.Store, d.Log)

	RegisterAction(pub, Action[establishmentsQ, []service.EstablishmentItem]{
		Method: http.MethodGet, Path: "/establishments", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *establishmentsQ) ([]service.EstablishmentItem, error) {
			return d.Svc.Establishments.List(c.Request.Context(), domain.EstablishmentFilter{
				Latitude:  in.Latitude,
				Longitude: in.Longitude,
				Only24h:   in.Is24Hours,
				Search:    strings.TrimSpace(in.Search),
			})
		},
	})

	RegisterAction(pub, Action[struct{}, *service.EstablishmentInfo]{
		Method: http.MethodGet, Path: "/establishments/:uuid", Binder: BindNone,
		Handler: func(c *gin.Context, _ *auth.Claims, _ *struct{}) (*service.EstablishmentInfo, error) {
			return d.Svc.Establishments.Info(c.Request.Context(), c.Param("uuid"))
		},
	})

	RegisterAction(pub, Action[slotsQ, []domain.Slot]{
		Method: http.MethodGet, Path: "/slots", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *slotsQ) ([]domain.Slot, error) {
			size := domain.VehicleSize(strings.ToUpper(strings.TrimSpace(in.VehicleSize)))
			return d.Svc.Slots.List(c.Request.Context(), in.EstablishmentID, size)
		},
	})

	RegisterAction(pub, Action[struct{}, []domain.VehicleType]{
		Method: http.MethodGet, Path: "/vehicle-types", Binder: BindNone,
		Handler: func(c *gin.Context, _ *auth.Claims, _ *struct{}) ([]domain.VehicleType, error) {
			return d.Svc.VehicleTypes.List(c.Request.Context())
		},
	})

	if d.Hub != nil {
		api.GET("/ws/slots", d.Hub.Serve)
	}

	user := New(api.Group("", mdw.AuthJWT(d.JWT)), d.Store, d.Log)

	RegisterAction(user, Action[formQ, *service.FormDetails]{
		Method: http.MethodGet, Path: "/transaction/form", Binder: BindQuery,
		Handler: func(c *gin.Context, _ *auth.Claims, in *formQ) (*service.FormDetails, error) {
			return d.Svc.Transactions.FormDetails(c.Request.Context(), in.EstablishmentUUID, in.SlotCode)
		},
	})

	RegisterAction(user, Action[service.ReserveInput, *domain.Transaction]{
		Method: http.MethodPost, Path: "/transaction/reserve", Binder: BindJSON,
		Status: http.StatusCreated, Msg: "Slot reserved successfully.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *service.ReserveInput) (*domain.Transaction, error) {
			return d.Svc.Transactions.Reserve(c.Request.Context(), actor(c, cl), *in)
		},
	})

	RegisterAction(user, Action[txQ, *service.TransactionView]{
		Method: http.MethodGet, Path: "/transaction/view", Binder: BindQuery,
		Handler: func(c *gin.Context, cl *auth.Claims, in *txQ) (*service.TransactionView, error) {
			return d.Svc.Transactions.View(c.Request.Context(), actor(c, cl), in.TransactionUUID)
		},
	})

	RegisterAction(user, Action[txIn, *domain.Transaction]{
		Method: http.MethodPatch, Path: "/transaction/cancel", Binder: BindJSON,
		Msg: "Transaction cancelled.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *txIn) (*domain.Transaction, error) {
			return d.Svc.Transactions.Cancel(c.Request.Context(), actor(c, cl), in.TransactionUUID)
		},
	})

	RegisterAction(user, Action[struct{}, []service.TransactionDetail]{
		Method: http.MethodGet, Path: "/transactions", Binder: BindNone,
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) ([]service.TransactionDetail, error) {
			return d.Svc.Transactions.ListForUser(c.Request.Context(), actor(c, cl))
		},
	})
}
