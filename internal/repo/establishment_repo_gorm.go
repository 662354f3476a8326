package repo

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ez-parking/internal/domain"
)

type EstablishmentRepo struct{ db *gorm.DB }

// 与 domain.HaversineKm 同一公式；LEAST 防止浮点误差让 ACOS 越界
const haversineOrder = "(6371 * ACOS(LEAST(1, COS(RADIANS(?)) * COS(RADIANS(latitude)) * " +
	"COS(RADIANS(longitude) - RADIANS(?)) + SIN(RADIANS(?)) * SIN(RADIANS(latitude))))) ASC"

func (r *EstablishmentRepo) Create(e *domain.Establishment) error {
	return translate(r.db.Create(e).Error)
}

func (r *EstablishmentRepo) FindByID(id uint) (*domain.Establishment, error) {
	return first[domain.Establishment](r.db, "id = ?", id)
}

func (r *EstablishmentRepo) FindByUUID(uuid string) (*domain.Establishment, error) {
	return first[domain.Establishment](r.db, "uuid = ?", uuid)
}

func (r *EstablishmentRepo) List(f domain.EstablishmentFilter) ([]domain.Establishment, error) {
	q := r.db.Model(&domain.Establishment{})
	if f.Only24h {
		q = q.Where("is_24_hours = ?", true)
	}
	if f.ManagerID != nil {
		q = q.Where("manager_id = ?", *f.ManagerID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where("name LIKE ? OR address LIKE ?", like, like)
	}
	if f.Near() {
		lat, lon := *f.Latitude, *f.Longitude
		q = q.Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                haversineOrder,
			Vars:               []any{lat, lon, lat},
			WithoutParentheses: true,
		}})
	} else {
		q = q.Order("id ASC")
	}
	var out []domain.Establishment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EstablishmentRepo) Update(e *domain.Establishment) error {
	return translate(r.db.Save(e).Error)
}

// Delete 显式先删车位，不依赖数据库外键级联
func (r *EstablishmentRepo) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("establishment_id = ?", id).Delete(&domain.Slot{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Establishment{}, id).Error
	})
}
