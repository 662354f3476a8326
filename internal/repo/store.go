// Package repo gorm 实现的仓储。未找到返回 (nil, nil)。
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ez-parking/internal/domain"
)

type txKey struct{}

type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// conn ctx 上有事务用事务，否则用连接池
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *Store) Repos(ctx context.Context) domain.Repos {
	db := s.conn(ctx)
	return domain.Repos{
		Users:          &UserRepo{db: db},
		Establishments: &EstablishmentRepo{db: db},
		VehicleTypes:   &VehicleTypeRepo{db: db},
		Slots:          &SlotRepo{db: db},
		Transactions:   &TransactionRepo{db: db},
		UserBans:       &UserBanRepo{db: db},
		PlateBans:      &PlateBanRepo{db: db},
		Audit:          &AuditRepo{db: db},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repos) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx, s.Repos(ctx))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx, s.Repos(txCtx))
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Models AutoMigrate 顺序即外键依赖顺序
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Establishment{},
		&domain.VehicleType{},
		&domain.Slot{},
		&domain.Transaction{},
		&domain.UserBan{},
		&domain.BannedPlate{},
		&domain.AuditLog{},
	}
}

func Migrate(db *gorm.DB) error { return db.AutoMigrate(Models()...) }

func first[T any](q *gorm.DB, query string, args ...any) (*T, error) {
	var v T
	err := q.Where(query, args...).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// translate 唯一键冲突 -> domain.ErrDuplicate
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicate
	}
	return err
}

func page(q *gorm.DB, offset, limit int) *gorm.DB {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return q.Offset(offset).Limit(limit)
}
