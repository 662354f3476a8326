package domain

import (
	"strings"
	"time"
	"unicode"
)

type UserBan struct {
	ID          uint       `gorm:"primaryKey" json:"ban_id"`
	UUID        string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	Reason      string     `gorm:"type:text;not null" json:"ban_reason"`
	BanStart    time.Time  `gorm:"not null" json:"ban_start"`
	BanEnd      *time.Time `json:"ban_end"`
	IsPermanent bool       `gorm:"not null;default:false" json:"is_permanent"`
	BannedBy    *uint      `json:"banned_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (b *UserBan) ActiveAt(t time.Time) bool { return banActive(b.IsPermanent, b.BanEnd, t) }

type BannedPlate struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UUID        string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	PlateNumber string     `gorm:"uniqueIndex;size:16;not null" json:"plate_number"`
	Reason      string     `gorm:"type:text;not null" json:"reason"`
	BannedBy    *uint      `json:"banned_by"`
	IsPermanent bool       `gorm:"not null;default:false" json:"is_permanent"`
	BanEnd      *time.Time `json:"ban_end"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (b *BannedPlate) ActiveAt(t time.Time) bool { return banActive(b.IsPermanent, b.BanEnd, t) }

// 没有结束时间的封禁视为一直有效
func banActive(permanent bool, end *time.Time, t time.Time) bool {
	if permanent || end == nil {
		return true
	}
	return end.After(t)
}

// NormalizePlate 去空白、大写："abc 1234" -> "ABC1234"
func NormalizePlate(p string) string {
	var b strings.Builder
	for _, r := range p {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
