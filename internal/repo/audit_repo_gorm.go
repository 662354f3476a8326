package repo

import (
	"gorm.io/gorm"

	"ez-parking/internal/domain"
)

type AuditRepo struct{ db *gorm.DB }

func (r *AuditRepo) Create(a *domain.AuditLog) error { return r.db.Create(a).Error }

func (r *AuditRepo) List(offset, limit int) ([]domain.AuditLog, int64, error) {
	var total int64
	if err := r.db.Model(&domain.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.AuditLog
	if err := page(r.db.Order("performed_at DESC, id DESC"), offset, limit).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
