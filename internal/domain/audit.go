package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

// AuditLog 只追加，不更新
type AuditLog struct {
	ID          uint              `gorm:"primaryKey" json:"audit_id"`
	UUID        string            `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	ActionType  ActionType        `gorm:"size:10;not null;index" json:"action_type"`
	PerformedBy uint              `gorm:"not null;index" json:"performed_by"`
	TargetUser  *uint             `json:"target_user"`
	Details     string            `gorm:"size:255;not null" json:"details"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	PerformedAt time.Time         `gorm:"not null;index" json:"performed_at"`
	IPAddress   string            `gorm:"size:45" json:"ip_address"`
}
