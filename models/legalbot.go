package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConsentStatus string

const (
	ConsentStatusPending      ConsentStatus = "pending"
	ConsentStatusAcknowledged ConsentStatus = "acknowledged"
	ConsentStatusDisputed     ConsentStatus = "disputed"
	ConsentStatusExpired      ConsentStatus = "expired"
)

func (s ConsentStatus) IsTerminal() bool {
	return s == ConsentStatusAcknowledged || s == ConsentStatusDisputed || s == ConsentStatusExpired
}

type NotificationType string

const (
	NotificationTypeEmail          NotificationType = "email"
	NotificationTypeWhatsApp       NotificationType = "whatsapp"
	NotificationTypeSMS            NotificationType = "sms"
	NotificationTypeRegisteredPost NotificationType = "registered_post"
)

type NotificationStatus string

const (
	NotificationStatusQueued    NotificationStatus = "queued"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusRead      NotificationStatus = "read"
	NotificationStatusFailed    NotificationStatus = "failed"
)

type ConsentEvent string

const (
	ConsentEventNotificationSent      ConsentEvent = "notification_sent"
	ConsentEventNotificationDelivered ConsentEvent = "notification_delivered"
	ConsentEventNotificationRead      ConsentEvent = "notification_read"
	ConsentEventExplicitConsent       ConsentEvent = "explicit_consent"
	ConsentEventDisputeRaised         ConsentEvent = "dispute_raised"
	ConsentEventPassiveConsent        ConsentEvent = "passive_consent"
	ConsentEventWindowExpired         ConsentEvent = "consent_window_expired"
)

func (e ConsentEvent) IsValid() bool {
	switch e {
	case ConsentEventNotificationSent, ConsentEventNotificationDelivered, ConsentEventNotificationRead,
		ConsentEventExplicitConsent, ConsentEventDisputeRaised, ConsentEventPassiveConsent, ConsentEventWindowExpired:
		return true
	}
	return false
}

// ConsentRecord tracks buyer sign-off for one invoice. At most one record per
// invoice is pending at a time. Notifications and logs reference the record
// through their own ConsentID column.
type ConsentRecord struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	InvoiceID          string            `gorm:"size:36;index;uniqueIndex:idx_consent_pending_invoice,where:status = 'pending';not null" json:"invoice_id"`
	BuyerEmail         string            `gorm:"size:255;not null" json:"buyer_email"`
	BuyerPhone         *string           `gorm:"size:32" json:"buyer_phone,omitempty"`
	Status             ConsentStatus     `gorm:"size:20;index;not null" json:"status"`
	ConsentWindowStart time.Time         `gorm:"not null" json:"consent_window_start"`
	ConsentWindowEnd   time.Time         `gorm:"index;not null" json:"consent_window_end"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
	ResolutionDetails  datatypes.JSONMap `json:"details,omitempty"`
	DisputeReason      *string           `gorm:"type:text" json:"dispute_reason,omitempty"`
	DisputeDetails     datatypes.JSONMap `json:"dispute_details,omitempty"`
	LedgerEntry        *string           `gorm:"type:text" json:"ledger_entry,omitempty"`

	Notifications []Notification `gorm:"foreignKey:ConsentID" json:"notifications,omitempty"`
	Logs          []ConsentLog   `gorm:"foreignKey:ConsentID" json:"logs,omitempty"`
}

// TableName overrides the table name
func (ConsentRecord) TableName() string {
	return "consent_records"
}

func (c *ConsentRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConsentStatusPending
	}
	return nil
}

type Notification struct {
	ID          string             `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	InvoiceID   string             `gorm:"size:36;index;not null" json:"invoice_id"`
	ConsentID   *string            `gorm:"size:36;index" json:"consent_id,omitempty"`
	Type        NotificationType   `gorm:"size:20;not null" json:"type"`
	Recipient   string             `gorm:"size:255;not null" json:"recipient"`
	Status      NotificationStatus `gorm:"size:20;index;not null" json:"status"`
	Content     string             `gorm:"type:text" json:"content"`
	Metadata    datatypes.JSONMap  `json:"metadata,omitempty"`
	MessageID   *string            `gorm:"size:255" json:"message_id,omitempty"` // provider-side id
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = NotificationStatusQueued
	}
	return nil
}

// ConsentLog is append-only; rows are never updated.
type ConsentLog struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	ConsentID *string           `gorm:"size:36;index" json:"consent_id,omitempty"`
	InvoiceID string            `gorm:"size:36;index;not null" json:"invoice_id"`
	Event     ConsentEvent      `gorm:"size:40;not null" json:"event"`
	Timestamp time.Time         `gorm:"index;not null" json:"timestamp"`
	Details   datatypes.JSONMap `json:"details,omitempty"`
	IPAddress *string           `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent *string           `gorm:"type:text" json:"user_agent,omitempty"`
}

func (ConsentLog) TableName() string {
	return "consent_logs"
}

func (l *ConsentLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
