package repo

import (
	"time"

	"gorm.io/gorm"

	"ez-parking/internal/domain"
)

type TransactionRepo struct{ db *gorm.DB }

func (r *TransactionRepo) Create(t *domain.Transaction) error {
	return translate(r.db.Create(t).Error)
}

func (r *TransactionRepo) FindByUUID(uuid string) (*domain.Transaction, error) {
	return first[domain.Transaction](r.db, "uuid = ?", uuid)
}

func (r *TransactionRepo) ListByUser(userID uint) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (r *TransactionRepo) ListByPlate(plate string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := r.db.Where("plate_number = ?", plate).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// Transition 以当前状态为条件的更新，返回是否命中
func (r *TransactionRepo) Transition(id uint, from domain.TransactionStatus, p domain.TransactionPatch) (bool, error) {
	cols := map[string]any{"status": p.Status}
	if p.EntryTime != nil {
		cols["entry_time"] = *p.EntryTime
	}
	if p.ExitTime != nil {
		cols["exit_time"] = *p.ExitTime
	}
	if p.AmountDue != nil {
		cols["amount_due"] = *p.AmountDue
	}
	res := r.db.Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TransactionRepo) ListReservedBefore(before time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := r.db.Where("status = ? AND created_at < ?", domain.TxReserved, before).
		Order("created_at ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *TransactionRepo) CountLive(slotIDs []uint) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.db.Model(&domain.Transaction{}).
		Where("slot_id IN ? AND status IN ?", slotIDs, []domain.TransactionStatus{domain.TxReserved, domain.TxActive}).
		Count(&n).Error
	return n, err
}
