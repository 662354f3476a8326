package domain

import "time"

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotReserved  SlotStatus = "reserved"
	SlotOccupied  SlotStatus = "occupied"
)

type VehicleSize string

const (
	SizeSmall  VehicleSize = "SMALL"
	SizeMedium VehicleSize = "MEDIUM"
	SizeLarge  VehicleSize = "LARGE"
)

func (s VehicleSize) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

type VehicleType struct {
	ID          uint        `gorm:"primaryKey" json:"vehicle_type_id"`
	UUID        string      `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Code        string      `gorm:"uniqueIndex;size:45;not null" json:"code"`
	Name        string      `gorm:"size:125;not null" json:"name"`
	Size        VehicleSize `gorm:"size:10;not null;index" json:"size"`
	Description string      `gorm:"size:255" json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Slot struct {
	ID              uint       `gorm:"primaryKey" json:"slot_id"`
	UUID            string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	EstablishmentID uint       `gorm:"not null;uniqueIndex:idx_slots_est_code,priority:1" json:"establishment_id"`
	SlotCode        string     `gorm:"size:45;not null;uniqueIndex:idx_slots_est_code,priority:2" json:"slot_code"`
	VehicleTypeID   uint       `gorm:"not null;index" json:"vehicle_type_id"`
	FloorLevel      int        `gorm:"not null;default:0" json:"floor_level"`
	Status          SlotStatus `gorm:"size:16;not null;default:available;index" json:"status"`
	SlotMultiplier  float64    `gorm:"type:decimal(3,2);not null;default:1.00" json:"slot_multiplier"`
	IsPremium       bool       `gorm:"not null;default:false" json:"is_premium"`
	IsCovered       bool       `gorm:"not null;default:false" json:"is_covered"`
	IsAccessible    bool       `gorm:"not null;default:false" json:"is_accessible"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SlotPatch 管理端可改的车位属性，nil 不改。
// status 不在其中：状态只能走 SlotRepository.TransitionStatus
type SlotPatch struct {
	SlotCode       *string
	VehicleTypeID  *uint
	FloorLevel     *int
	SlotMultiplier *float64
	IsPremium      *bool
	IsCovered      *bool
	IsAccessible   *bool
}

func (p SlotPatch) Empty() bool {
	return p.SlotCode == nil && p.VehicleTypeID == nil && p.FloorLevel == nil && p.SlotMultiplier == nil &&
		p.IsPremium == nil && p.IsCovered == nil && p.IsAccessible == nil
}

// Apply 把 patch 写到内存里的行上
func (p SlotPatch) Apply(s *Slot) {
	if p.SlotCode != nil {
		s.SlotCode = *p.SlotCode
	}
	if p.VehicleTypeID != nil {
		s.VehicleTypeID = *p.VehicleTypeID
	}
	if p.FloorLevel != nil {
		s.FloorLevel = *p.FloorLevel
	}
	if p.SlotMultiplier != nil {
		s.SlotMultiplier = *p.SlotMultiplier
	}
	if p.IsPremium != nil {
		s.IsPremium = *p.IsPremium
	}
	if p.IsCovered != nil {
		s.IsCovered = *p.IsCovered
	}
	if p.IsAccessible != nil {
		s.IsAccessible = *p.IsAccessible
	}
}

// Taken reserved / occupied 都不可再预约
func (s *Slot) Taken() bool { return s.Status != SlotAvailable }

// SlotEvent 车位状态变化，推给 websocket 订阅者
type SlotEvent struct {
	EstablishmentUUID string     `json:"establishment_uuid"`
	SlotUUID          string     `json:"slot_uuid"`
	SlotCode          string     `json:"slot_code"`
	Status            SlotStatus `json:"status"`
	Available         int64      `json:"available"`
}
