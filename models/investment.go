package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Investment is one tranche of funding recorded against a validated invoice.
type Investment struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	InvoiceID  string          `gorm:"size:36;index;not null" json:"invoice_id"`
	InvestorID string          `gorm:"size:36;index" json:"investor_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Reference  string          `gorm:"size:255" json:"reference"` // settlement rail reference
	Status     string          `gorm:"size:20;default:'active'" json:"status"` // active, settled, defaulted
}

// TableName overrides the table name
func (Investment) TableName() string {
	return "investments"
}

func (i *Investment) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
