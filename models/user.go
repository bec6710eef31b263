package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin    = "admin"
	RoleSeller   = "seller"
	RoleInvestor = "investor"
)

type User struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	Email         string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name          string         `gorm:"size:255;not null" json:"name"`
	CompanyName   string         `gorm:"size:255" json:"company_name"`
	GSTIN         string         `gorm:"column:gstin;size:15" json:"gstin"`
	PasswordHash  string         `gorm:"size:255;not null" json:"-"`
	Role          string         `gorm:"size:20;default:'seller'" json:"role"` // admin, seller, investor
	KYCStatus     string         `gorm:"size:20;default:'pending'" json:"kyc_status"` // pending, verified, rejected
	KYCVerifiedAt *time.Time     `json:"kyc_verified_at"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
