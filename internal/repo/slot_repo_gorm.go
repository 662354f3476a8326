package repo

import (
	"gorm.io/gorm"

	"ez-parking/internal/domain"
)

type VehicleTypeRepo struct{ db *gorm.DB }

func (r *VehicleTypeRepo) Create(v *domain.VehicleType) error {
	return translate(r.db.Create(v).Error)
}

func (r *VehicleTypeRepo) FindByID(id uint) (*domain.VehicleType, error) {
	return first[domain.VehicleType](r.db, "id = ?", id)
}

func (r *VehicleTypeRepo) List() ([]domain.VehicleType, error) {
	var out []domain.VehicleType
	if err := r.db.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type SlotRepo struct{ db *gorm.DB }

func (r *SlotRepo) Create(s *domain.Slot) error { return translate(r.db.Create(s).Error) }

func (r *SlotRepo) FindByID(id uint) (*domain.Slot, error) {
	return first[domain.Slot](r.db, "id = ?", id)
}

func (r *SlotRepo) FindByCode(establishmentID uint, code string) (*domain.Slot, error) {
	return first[domain.Slot](r.db, "establishment_id = ? AND slot_code = ?", establishmentID, code)
}

func (r *SlotRepo) ListByEstablishment(establishmentID uint, size domain.VehicleSize) ([]domain.Slot, error) {
	q := r.db.Model(&domain.Slot{}).Where("slots.establishment_id = ?", establishmentID)
	if size != "" {
		q = q.Joins("JOIN vehicle_types ON vehicle_types.id = slots.vehicle_type_id").
			Where("vehicle_types.size = ?", size)
	}
	var out []domain.Slot
	if err := q.Order("slots.floor_level ASC, slots.slot_code ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Patch 按列更新；Save 会整行回写，把并发预约改过的 status 覆盖掉
func (r *SlotRepo) Patch(id uint, p domain.SlotPatch) error {
	if p.Empty() {
		return nil
	}
	cols := map[string]any{}
	if p.SlotCode != nil {
		cols["slot_code"] = *p.SlotCode
	}
	if p.VehicleTypeID != nil {
		cols["vehicle_type_id"] = *p.VehicleTypeID
	}
	if p.FloorLevel != nil {
		cols["floor_level"] = *p.FloorLevel
	}
	if p.SlotMultiplier != nil {
		cols["slot_multiplier"] = *p.SlotMultiplier
	}
	if p.IsPremium != nil {
		cols["is_premium"] = *p.IsPremium
	}
	if p.IsCovered != nil {
		cols["is_covered"] = *p.IsCovered
	}
	if p.IsAccessible != nil {
		cols["is_accessible"] = *p.IsAccessible
	}
	return translate(r.db.Model(&domain.Slot{}).Where("id = ?", id).Updates(cols).Error)
}

// TransitionStatus UPDATE ... WHERE status IN (from)，并发下只有一个请求能命中
func (r *SlotRepo) TransitionStatus(id uint, from []domain.SlotStatus, to domain.SlotStatus) (bool, error) {
	res := r.db.Model(&domain.Slot{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *SlotRepo) CountAvailable(establishmentID uint) (int64, error) {
	var n int64
	err := r.db.Model(&domain.Slot{}).
		Where("establishment_id = ? AND status = ?", establishmentID, domain.SlotAvailable).
		Count(&n).Error
	return n, err
}
