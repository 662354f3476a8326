package domain

import (
	"context"
	"errors"
	"time"
)

// 仓储约定：查不到返回 (nil, nil)，只有真正的存储错误才返回 error

// ErrDuplicate 唯一约束冲突，各存储实现统一翻译成它
var ErrDuplicate = errors.New("duplicate key")

type UserRepository interface {
	Create(u *User) error
	FindByID(id uint) (*User, error)
	FindByUUID(uuid string) (*User, error)
	FindByEmail(email string) (*User, error)
	FindByPhone(phone string) (*User, error)
	FindByPlate(plate string) (*User, error)
	FindByVerificationToken(token string) (*User, error)
	Update(u *User) error
}

type EstablishmentRepository interface {
	Create(e *Establishment) error
	FindByID(id uint) (*Establishment, error)
	FindByUUID(uuid string) (*Establishment, error)
	List(f EstablishmentFilter) ([]Establishment, error)
	Update(e *Establishment) error
	// Delete 连同车位一起删
	Delete(id uint) error
}

type VehicleTypeRepository interface {
	Create(v *VehicleType) error
	FindByID(id uint) (*VehicleType, error)
	List() ([]VehicleType, error)
}

type SlotRepository interface {
	Create(s *Slot) error
	FindByID(id uint) (*Slot, error)
	FindByCode(establishmentID uint, code string) (*Slot, error)
	ListByEstablishment(establishmentID uint, size VehicleSize) ([]Slot, error)
	// Patch 只写 patch 里给出的列，不碰 status
	Patch(id uint, p SlotPatch) error
	// TransitionStatus 条件更新：仅当当前状态在 from 中才改为 to，返回是否命中
	TransitionStatus(id uint, from []SlotStatus, to SlotStatus) (bool, error)
	CountAvailable(establishmentID uint) (int64, error)
}

type TransactionRepository interface {
	Create(t *Transaction) error
	FindByUUID(uuid string) (*Transaction, error)
	ListByUser(userID uint) ([]Transaction, error)
	ListByPlate(plate string) ([]Transaction, error)
	// Transition 条件更新：仅当当前状态为 from 时写入 patch
	Transition(id uint, from TransactionStatus, patch TransactionPatch) (bool, error)
	ListReservedBefore(before time.Time, limit int) ([]Transaction, error)
	// CountLive 引用这些车位且仍为 reserved / active 的交易数
	CountLive(slotIDs []uint) (int64, error)
}

type UserBanRepository interface {
	Create(b *UserBan) error
	ActiveForUser(userID uint, at time.Time) (*UserBan, error)
	DeleteForUser(userID uint) (int64, error)
	List(offset, limit int) ([]UserBan, int64, error)
}

type PlateBanRepository interface {
	// Upsert 同一车牌重复封禁时覆盖原因/期限
	Upsert(b *BannedPlate) error
	FindByPlate(plate string) (*BannedPlate, error)
	Delete(plate string) (int64, error)
	List(offset, limit int) ([]BannedPlate, int64, error)
}

type AuditRepository interface {
	Create(a *AuditLog) error
	List(offset, limit int) ([]AuditLog, int64, error)
}

// Repos 同一连接 / 同一事务上的全部仓储
type Repos struct {
	Users          UserRepository
	Establishments EstablishmentRepository
	VehicleTypes   VehicleTypeRepository
	Slots          SlotRepository
	Transactions   TransactionRepository
	UserBans       UserBanRepository
	PlateBans      PlateBanRepository
	Audit          AuditRepository
}

// Store 注入式的数据库句柄。
// InTx 若 ctx 上已有事务则直接复用（请求级事务），否则新开一个。
type Store interface {
	Repos(ctx context.Context) Repos
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Ping(ctx context.Context) error
}
