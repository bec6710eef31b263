package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting stores one settings category as a JSON document.
type SystemSetting struct {
	Category  string         `gorm:"primaryKey;size:32" json:"category"`
	Payload   datatypes.JSON `gorm:"not null" json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
	UpdatedBy string         `gorm:"size:36" json:"updated_by,omitempty"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
