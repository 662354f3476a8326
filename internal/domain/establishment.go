package domain

import (
	"math"
	"time"
)

type Establishment struct {
	ID            uint      `gorm:"primaryKey" json:"establishment_id"`
	UUID          string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	ManagerID     *uint     `gorm:"index" json:"-"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Address       string    `gorm:"size:255;not null" json:"address"`
	ContactNumber string    `gorm:"size:25;not null" json:"contact_number"`
	OpeningTime   string    `gorm:"size:5" json:"opening_time"` // HH:MM
	ClosingTime   string    `gorm:"size:5" json:"closing_time"`
	Is24Hours     bool      `gorm:"column:is_24_hours;not null;default:false" json:"is_24_hours"`
	HourlyRate    float64   `gorm:"type:decimal(8,2);not null" json:"hourly_rate"`
	Longitude     float64   `gorm:"type:decimal(11,8);not null" json:"longitude"`
	Latitude      float64   `gorm:"type:decimal(10,8);not null" json:"latitude"`
	Slots         []Slot    `gorm:"foreignKey:EstablishmentID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Establishment) TableName() string { return "parking_establishments" }

// ManagedBy 管理员（admin）不走这里，由调用方放行
func (e *Establishment) ManagedBy(userID uint) bool {
	return e.ManagerID != nil && *e.ManagerID == userID
}

// EstablishmentSummary 交易详情里附带的停车场信息
type EstablishmentSummary struct {
	UUID          string  `json:"uuid"`
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	Longitude     float64 `json:"longitude"`
	Latitude      float64 `json:"latitude"`
	ContactNumber string  `json:"contact_number"`
}

func (e *Establishment) Summary() EstablishmentSummary {
	return EstablishmentSummary{
		UUID:          e.UUID,
		Name:          e.Name,
		Address:       e.Address,
		Longitude:     e.Longitude,
		Latitude:      e.Latitude,
		ContactNumber: e.ContactNumber,
	}
}

type EstablishmentFilter struct {
	Latitude  *float64
	Longitude *float64
	Only24h   bool
	Search    string
	ManagerID *uint
}

// Near 同时给了经纬度才按距离排序
func (f EstablishmentFilter) Near() bool { return f.Latitude != nil && f.Longitude != nil }

const EarthRadiusKm = 6371.0

// HaversineKm 球面余弦公式，与 SQL 排序表达式一致
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	p1, p2 := rad(lat1), rad(lat2)
	cos := math.Cos(p1)*math.Cos(p2)*math.Cos(rad(lon2)-rad(lon1)) + math.Sin(p1)*math.Sin(p2)
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return EarthRadiusKm * math.Acos(cos)
}
