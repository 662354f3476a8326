package domain

import "time"

type TransactionStatus string

const (
	TxReserved  TransactionStatus = "reserved"
	TxActive    TransactionStatus = "active"
	TxCompleted TransactionStatus = "completed"
	TxCancelled TransactionStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentOverdue       PaymentStatus = "overdue"
)

// CanTransition reserved -> active -> completed；cancelled 只能从 reserved / active 进入
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	switch to {
	case TxActive:
		return s == TxReserved
	case TxCompleted:
		return s == TxActive
	case TxCancelled:
		return s == TxReserved || s == TxActive
	}
	return false
}

// Terminal completed / cancelled
func (s TransactionStatus) Terminal() bool { return s == TxCompleted || s == TxCancelled }

// ShowsQR 只有进行中的交易才出二维码
func (s TransactionStatus) ShowsQR() bool { return s == TxReserved || s == TxActive }

type Transaction struct {
	ID            uint              `gorm:"primaryKey" json:"transaction_id"`
	UUID          string            `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	SlotID        uint              `gorm:"not null;index" json:"slot_id"`
	VehicleTypeID uint              `gorm:"not null" json:"vehicle_type_id"`
	UserID        uint              `gorm:"not null;index" json:"user_id"`
	PlateNumber   string            `gorm:"size:16;not null;index" json:"plate_number"`
	EntryTime     *time.Time        `json:"entry_time"`
	ExitTime      *time.Time        `json:"exit_time"`
	AmountDue     float64           `gorm:"type:decimal(9,2);not null;default:0" json:"amount_due"`
	PaymentStatus PaymentStatus     `gorm:"size:16;not null;default:pending" json:"payment_status"`
	Status        TransactionStatus `gorm:"size:16;not null;default:reserved;index" json:"status"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "parking_transactions" }

// TransactionPatch 条件更新时一起写入的字段，nil 表示不改
type TransactionPatch struct {
	Status    TransactionStatus
	EntryTime *time.Time
	ExitTime  *time.Time
	AmountDue *float64
}
