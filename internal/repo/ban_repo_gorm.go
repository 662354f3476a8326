package repo

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ez-parking/internal/domain"
)

type UserBanRepo struct{ db *gorm.DB }

func (r *UserBanRepo) Create(b *domain.UserBan) error { return translate(r.db.Create(b).Error) }

// ActiveForUser 永久 / 无结束时间 / 结束时间在 at 之后
func (r *UserBanRepo) ActiveForUser(userID uint, at time.Time) (*domain.UserBan, error) {
	q := r.db.Where("is_permanent = ? OR ban_end IS NULL OR ban_end > ?", true, at).
		Order("ban_start DESC")
	return first[domain.UserBan](q, "user_id = ?", userID)
}

func (r *UserBanRepo) DeleteForUser(userID uint) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.UserBan{})
	return res.RowsAffected, res.Error
}

func (r *UserBanRepo) List(offset, limit int) ([]domain.UserBan, int64, error) {
	var total int64
	if err := r.db.Model(&domain.UserBan{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.UserBan
	if err := page(r.db.Order("ban_start DESC"), offset, limit).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type PlateBanRepo struct{ db *gorm.DB }

// Upsert plate_number 唯一，重复封禁覆盖原因和期限
func (r *PlateBanRepo) Upsert(b *domain.BannedPlate) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plate_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "banned_by", "is_permanent", "ban_end", "updated_at"}),
	}).Create(b).Error
}

func (r *PlateBanRepo) FindByPlate(plate string) (*domain.BannedPlate, error) {
	return first[domain.BannedPlate](r.db, "plate_number = ?", plate)
}

func (r *PlateBanRepo) Delete(plate string) (int64, error) {
	res := r.db.Where("plate_number = ?", plate).Delete(&domain.BannedPlate{})
	return res.RowsAffected, res.Error
}

func (r *PlateBanRepo) List(offset, limit int) ([]domain.BannedPlate, int64, error) {
	var total int64
	if err := r.db.Model(&domain.BannedPlate{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.BannedPlate
	if err := page(r.db.Order("created_at DESC"), offset, limit).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
