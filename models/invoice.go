package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusPendingValidation InvoiceStatus = "pending_validation"
	InvoiceStatusPendingConsent    InvoiceStatus = "pending_consent" // waiting for buyer sign-off
	InvoiceStatusValidated         InvoiceStatus = "validated"
	InvoiceStatusRejected          InvoiceStatus = "rejected"
	InvoiceStatusFunded            InvoiceStatus = "funded"
	InvoiceStatusPaid              InvoiceStatus = "paid"
	InvoiceStatusDefaulted         InvoiceStatus = "defaulted"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusPendingValidation, InvoiceStatusPendingConsent, InvoiceStatusValidated,
		InvoiceStatusRejected, InvoiceStatusFunded, InvoiceStatusPaid, InvoiceStatusDefaulted:
		return true
	}
	return false
}

type RiskTier string

const (
	RiskTierA RiskTier = "A" // low risk
	RiskTierB RiskTier = "B"
	RiskTierC RiskTier = "C"
	RiskTierD RiskTier = "D" // very high risk
)

type CheckResult string

const (
	CheckResultPass    CheckResult = "pass"
	CheckResultWarning CheckResult = "warning"
	CheckResultFail    CheckResult = "fail"
)

// CheckOutcome is the result of a single validation rule. The full list is
// replaced on every validation run.
type CheckOutcome struct {
	CheckName string                 `json:"check_name" binding:"required"`
	Result    CheckResult            `json:"result" binding:"required,oneof=pass warning fail"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Tax         decimal.Decimal `json:"tax"`
}

type Invoice struct {
	ID                  string              `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	DeletedAt           gorm.DeletedAt      `gorm:"index" json:"-"`
	SellerID            string              `gorm:"size:36;index" json:"seller_id"`
	InvoiceNumber       string              `gorm:"size:64;index" json:"invoice_number"`
	Amount              decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"amount"`
	Currency            string              `gorm:"size:10;default:'INR'" json:"currency"`
	InvoiceDate         *time.Time          `json:"invoice_date"`
	DueDate             *time.Time          `json:"due_date"`
	Description         string              `gorm:"type:text" json:"description"`
	BuyerName           string              `gorm:"size:255;not null" json:"buyer_name"`
	BuyerEmail          string              `gorm:"size:255" json:"buyer_email,omitempty"`
	BuyerPhone          string              `gorm:"size:32" json:"buyer_phone,omitempty"`
	BuyerGSTIN          string              `gorm:"column:buyer_gstin;size:15" json:"buyer_gstin,omitempty"`
	BuyerAddress        string              `gorm:"type:text" json:"buyer_address,omitempty"`
	PurchaseOrderNumber string              `gorm:"size:64" json:"purchase_order_number,omitempty"`
	Terms               string              `gorm:"type:text" json:"terms,omitempty"`
	LineItems           []LineItem          `gorm:"type:text;serializer:json" json:"line_items,omitempty"`
	SupportingDocuments []string            `gorm:"type:text;serializer:json" json:"supporting_documents,omitempty"`
	FileHash            string              `gorm:"column:hash;size:128" json:"hash,omitempty"` // SHA-256 of the uploaded file
	OCRData             datatypes.JSONMap   `gorm:"column:ocr_data" json:"ocr_data,omitempty"`

	Status            InvoiceStatus   `gorm:"size:32;index;not null" json:"status"`
	TrustScore        *int            `json:"trust_score"`
	RiskTier          *RiskTier       `gorm:"size:1;index" json:"risk_tier"`
	ValidationResults []CheckOutcome  `gorm:"type:text;serializer:json" json:"validation_results"`
	FundedAmount      decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"funded_amount"`
	AvailableAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"available_amount"`
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = InvoiceStatusPendingValidation
	}
	return nil
}

// Deletable reports whether the invoice may still be removed.
func (i *Invoice) Deletable() bool {
	return i.Status == InvoiceStatusPendingValidation || i.Status == InvoiceStatusRejected
}

// InvoiceStatusAudit records one lifecycle transition of an invoice.
type InvoiceStatusAudit struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	InvoiceID      string        `gorm:"size:36;index;not null" json:"invoice_id"`
	PreviousStatus InvoiceStatus `gorm:"size:32" json:"previous_status"`
	CurrentStatus  InvoiceStatus `gorm:"size:32;not null" json:"current_status"`
	Reason         string        `gorm:"type:text" json:"reason,omitempty"`
	ActionBy       string        `gorm:"size:64" json:"action_by,omitempty"`
	ActionTime     time.Time     `gorm:"index" json:"action_time"`
}

func (InvoiceStatusAudit) TableName() string {
	return "invoice_status_audits"
}

func (a *InvoiceStatusAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
