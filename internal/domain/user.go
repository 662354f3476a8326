package domain

import "time"

type Role string

const (
	RoleUser           Role = "user"
	RoleParkingManager Role = "parking_manager"
	RoleAdmin          Role = "admin"
	RoleCashier        Role = "cashier"
)

type User struct {
	ID                 uint       `gorm:"primaryKey" json:"user_id"`
	UUID               string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Nickname           string     `gorm:"size:64" json:"nickname"`
	FirstName          string     `gorm:"size:64;not null" json:"first_name"`
	LastName           string     `gorm:"size:64;not null" json:"last_name"`
	Email              string     `gorm:"uniqueIndex;size:191;not null" json:"email"`
	PhoneNumber        string     `gorm:"uniqueIndex;size:32;not null" json:"phone_number"`
	Role               Role       `gorm:"size:20;not null;default:user" json:"role"`
	PlateNumber        *string    `gorm:"uniqueIndex;size:16" json:"plate_number"`
	OTPSecret          string     `gorm:"size:72" json:"-"` // bcrypt
	OTPExpiry          *time.Time `json:"-"`
	OTPAttempts        int        `gorm:"not null;default:0" json:"-"`
	IsVerified         bool       `gorm:"not null;default:false" json:"is_verified"`
	VerificationToken  *string    `gorm:"uniqueIndex;size:64" json:"-"`
	VerificationExpiry *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"creation_date"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Plate 未登记车牌返回空串
func (u *User) Plate() string {
	if u.PlateNumber == nil {
		return ""
	}
	return *u.PlateNumber
}

// UserInfo 扫码概览里给停车场管理员看的用户信息
type UserInfo struct {
	UUID        string `json:"uuid"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Nickname    string `json:"nickname"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	PlateNumber string `json:"plate_number"`
}

func (u *User) Info() UserInfo {
	return UserInfo{
		UUID:        u.UUID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Nickname:    u.Nickname,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		PlateNumber: u.Plate(),
	}
}
