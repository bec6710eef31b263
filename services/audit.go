package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RequestMeta identifies the caller behind a logged consent event.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditLog is the append-only trail for consent events and invoice status
// transitions. Rows are inserted, never updated.
type AuditLog struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewAuditLog(db *gorm.DB, logger *logrus.Logger) *AuditLog {
	return &AuditLog{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent appends an event to a consent record's trail.
func (a *AuditLog) LogEvent(ctx context.Context, consentID string, event models.ConsentEvent, details map[string]interface{}, meta RequestMeta) (*models.ConsentLog, error) {
	if !event.IsValid() {
		return nil, &ValidationInputError{Field: "event", Reason: fmt.Sprintf("unknown consent event %q", event)}
	}

	var record models.ConsentRecord
	if err := a.db.WithContext(ctx).Select("id", "invoice_id").First(&record, "id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "consent_record", ID: consentID}
		}
		return nil, err
	}

	return a.appendConsentLog(a.db.WithContext(ctx), &record, event, details, meta)
}

func (a *AuditLog) appendConsentLog(tx *gorm.DB, record *models.ConsentRecord, event models.ConsentEvent, details map[string]interface{}, meta RequestMeta) (*models.ConsentLog, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	entry := models.ConsentLog{
		ConsentID: &record.ID,
		InvoiceID: record.InvoiceID,
		Event:     event,
		Timestamp: a.now(),
		Details:   datatypes.JSONMap(details),
		IPAddress: optionalString(meta.IPAddress),
		UserAgent: optionalString(meta.UserAgent),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append %s log for consent %s: %w", event, record.ID, err)
	}
	return &entry, nil
}

func (a *AuditLog) recordStatusChange(tx *gorm.DB, invoiceID string, from, to models.InvoiceStatus, reason, actor string) error {
	row := models.InvoiceStatusAudit{
		InvoiceID:      invoiceID,
		PreviousStatus: from,
		CurrentStatus:  to,
		Reason:         reason,
		ActionBy:       actor,
		ActionTime:     a.now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to audit invoice %s %s->%s: %w", invoiceID, from, to, err)
	}
	return nil
}

// ConsentTrail returns a consent record's events ordered by timestamp.
func (a *AuditLog) ConsentTrail(ctx context.Context, consentID string) ([]models.ConsentLog, error) {
	var logs []models.ConsentLog
	err := a.db.WithContext(ctx).Where("consent_id = ?", consentID).Order("timestamp asc").Find(&logs).Error
	return logs, err
}

// InvoiceHistory returns every status transition recorded for an invoice.
func (a *AuditLog) InvoiceHistory(ctx context.Context, invoiceID string) ([]models.InvoiceStatusAudit, error) {
	var rows []models.InvoiceStatusAudit
	err := a.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("action_time asc").Find(&rows).Error
	return rows, err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
