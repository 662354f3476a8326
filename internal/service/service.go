// Package service 业务用例。只返回 apperr 错误，不感知 HTTP。
package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
	"ez-parking/internal/core/cache"
	"ez-parking/internal/core/mailer"
	"ez-parking/internal/core/qrcode"
	"ez-parking/internal/domain"
)

// Actor 发起调用的人，由 JWT claims + 请求信息组成
type Actor struct {
	UserID    uint
	UUID      string
	Role      domain.Role
	IP        string
	RequestID string
}

func (a Actor) Admin() bool { return a.Role == domain.RoleAdmin }

// SlotPublisher 车位状态变化的推送出口（websocket hub）
type SlotPublisher interface {
	Publish(ev domain.SlotEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.SlotEvent) {}

type AuthOptions struct {
	OTPTTL        time.Duration
	VerifyTTL     time.Duration
	OTPRateLimit  int
	OTPRateWindow time.Duration
	BaseURL       string
}

type Deps struct {
	Store domain.Store
	JWT   *auth.JWTer
	QR    *qrcode.Signer
	Cache *cache.Cache // 可为 nil
	Mail  mailer.Sender
	Pub   SlotPublisher // 可为 nil
	Log   *zap.Logger
	Auth  AuthOptions
}

type Services struct {
	Auth           *AuthService
	Establishments *EstablishmentService
	Slots          *SlotService
	VehicleTypes   *VehicleTypeService
	Transactions   *TransactionService
	Admin          *AdminService
}

func New(d Deps) *Services {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Pub == nil {
		d.Pub = nopPublisher{}
	}
	if d.Mail == nil {
		d.Mail = mailer.LogSender{L: d.Log}
	}
	est := &EstablishmentService{store: d.Store, cache: d.Cache, l: d.Log.Named("establishment"), infoTTL: 30 * time.Second}
	return &Services{
		Auth:           newAuthService(d),
		Establishments: est,
		Slots:          &SlotService{store: d.Store, est: est, pub: d.Pub, l: d.Log.Named("slot")},
		VehicleTypes:   &VehicleTypeService{store: d.Store},
		Transactions:   newTransactionService(d, est),
		Admin:          &AdminService{store: d.Store, l: d.Log.Named("admin"), now: time.Now},
	}
}

// Page 列表分页结果
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

func newUUID() string { return uuid.NewString() }

// dbErr 存储层错误 -> 业务错误；已经是业务错误的原样返回
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}
	if errors.Is(err, domain.ErrDuplicate) {
		return apperr.Wrap(apperr.Conflict, "", err)
	}
	return apperr.DB(err)
}

// writeAudit 与业务写入在同一事务
func writeAudit(r domain.Repos, a Actor, action domain.ActionType, target *uint, details string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	if a.RequestID != "" {
		meta["request_id"] = a.RequestID
	}
	if len(details) > 255 {
		details = details[:255]
	}
	return dbErr(r.Audit.Create(&domain.AuditLog{
		UUID:        newUUID(),
		ActionType:  action,
		PerformedBy: a.UserID,
		TargetUser:  target,
		Details:     details,
		Metadata:    datatypes.JSONMap(meta),
		PerformedAt: time.Now(),
		IPAddress:   a.IP,
	}))
}
