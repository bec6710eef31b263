package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const systemActor = "system"

type CreateConsentInput struct {
	InvoiceID  string  `json:"invoice_id" binding:"required"`
	BuyerEmail string  `json:"buyer_email" binding:"required,email"`
	BuyerPhone *string `json:"buyer_phone"`
}

type SendNotificationInput struct {
	InvoiceID string                  `json:"invoice_id" binding:"required"`
	ConsentID *string                 `json:"consent_id"`
	Type      models.NotificationType `json:"type" binding:"required"`
	Recipient string                  `json:"recipient" binding:"required"`
	Subject   string                  `json:"subject"`
	Content   string                  `json:"content" binding:"required"`
	Metadata  map[string]interface{}  `json:"metadata"`
}

// ConsentManager runs the buyer consent window: it opens a record, notifies
// the buyer on every enabled channel and resolves the record explicitly or
// passively once the window has passed.
type ConsentManager struct {
	db              *gorm.DB
	settings        config.SettingsSource
	lifecycle       *InvoiceLifecycle
	audit           *AuditLog
	transport       utils.NotificationTransport
	locker          utils.Locker
	logger          *logrus.Logger
	dispatchTimeout time.Duration
	phoneRegion     string
	now             func() time.Time
}

func NewConsentManager(
	db *gorm.DB,
	settings config.SettingsSource,
	lifecycle *InvoiceLifecycle,
	audit *AuditLog,
	transport utils.NotificationTransport,
	locker utils.Locker,
	logger *logrus.Logger,
	dispatchTimeout time.Duration,
) *ConsentManager {
	if locker == nil {
		locker = utils.NoopLocker{}
	}
	if dispatchTimeout <= 0 {
		dispatchTimeout = 10 * time.Second
	}
	return &ConsentManager{
		db:              db,
		settings:        settings,
		lifecycle:       lifecycle,
		audit:           audit,
		transport:       transport,
		locker:          locker,
		logger:          logger,
		dispatchTimeout: dispatchTimeout,
		phoneRegion:     utils.DefaultPhoneRegion,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateConsent opens a consent window for an invoice waiting on buyer
// sign-off and notifies the buyer. Dispatch failures are recorded on the
// notifications and never undo the record.
func (m *ConsentManager) CreateConsent(ctx context.Context, in CreateConsentInput) (*models.ConsentRecord, error) {
	ctx, span := tracer.Start(ctx, "ConsentManager.CreateConsent", trace.WithAttributes(attribute.String("invoice.id", in.InvoiceID)))
	defer span.End()

	if strings.TrimSpace(in.InvoiceID) == "" {
		return nil, &ValidationInputError{Field: "invoice_id", Reason: "is required"}
	}
	email := strings.TrimSpace(in.BuyerEmail)
	if email == "" {
		return nil, &ValidationInputError{Field: "buyer_email", Reason: "is required"}
	}
	var phone *string
	if in.BuyerPhone != nil && strings.TrimSpace(*in.BuyerPhone) != "" {
		normalized, err := utils.NormalizePhone(*in.BuyerPhone, m.phoneRegion)
		if err != nil {
			return nil, &ValidationInputError{Field: "buyer_phone", Reason: err.Error()}
		}
		phone = &normalized
	}

	settings := currentSettings(ctx, m.settings, m.logger)
	window := settings.LegalBot.ConsentWindow()
	if window <= 0 {
		window = config.DefaultConsentWindowHours * time.Hour
	}

	release := obtainInvoiceLock(ctx, m.locker, m.logger, in.InvoiceID)

	var (
		record models.ConsentRecord
		inv    *models.Invoice
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = loadInvoice(tx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceStatusPendingConsent {
			return conflictFor(inv.ID, []models.InvoiceStatus{models.InvoiceStatusPendingConsent}, inv.Status)
		}

		var existing models.ConsentRecord
		err = tx.Select("id").Where("invoice_id = ? AND status = ?", inv.ID, models.ConsentStatusPending).First(&existing).Error
		if err == nil {
			return &StateConflictError{
				Entity:   "consent_record",
				ID:       existing.ID,
				Expected: "no pending consent for invoice " + inv.ID,
				Actual:   string(models.ConsentStatusPending),
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := m.now()
		record = models.ConsentRecord{
			InvoiceID:          inv.ID,
			BuyerEmail:         email,
			BuyerPhone:         phone,
			Status:             models.ConsentStatusPending,
			ConsentWindowStart: now,
			ConsentWindowEnd:   now.Add(window),
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &StateConflictError{Entity: "consent_record", ID: inv.ID, Expected: "no pending consent", Actual: string(models.ConsentStatusPending)}
			}
			return fmt.Errorf("failed to create consent record: %w", err)
		}
		return nil
	})
	// the lock covers record creation only; dispatch runs without it
	release()
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"consent_id":         record.ID,
		"invoice_id":         record.InvoiceID,
		"consent_window_end": record.ConsentWindowEnd,
	}).Info("consent window opened")

	for _, n := range m.planNotifications(ctx, inv, &record, settings) {
		if _, err := m.send(ctx, n, &record); err != nil {
			config.LogError(m.logger, "services", "CreateConsent", "queue notification", n.Type, err)
		}
	}

	return m.GetConsent(ctx, record.ID)
}

func (m *ConsentManager) planNotifications(ctx context.Context, inv *models.Invoice, record *models.ConsentRecord, s config.Settings) []SendNotificationInput {
	var seller models.User
	sellerName, sellerEmail := "", ""
	if inv.SellerID != "" {
		if err := m.db.WithContext(ctx).Select("id", "name", "company_name", "email").First(&seller, "id = ?", inv.SellerID).Error; err == nil {
			sellerName = seller.CompanyName
			if sellerName == "" {
				sellerName = seller.Name
			}
			sellerEmail = seller.Email
		}
	}

	consentID := record.ID
	var plans []SendNotificationInput

	if s.LegalBot.ChannelEnabled(models.NotificationTypeEmail) && record.BuyerEmail != "" {
		subject, body, err := EmailNotice(inv, sellerName, s)
		if err != nil {
			config.LogError(m.logger, "services", "planNotifications", "render email notice", inv.ID, err)
		} else {
			meta := map[string]interface{}{"subject": subject}
			if sellerEmail != "" {
				meta["cc"] = sellerEmail
			}
			plans = append(plans, SendNotificationInput{
				InvoiceID: inv.ID,
				ConsentID: &consentID,
				Type:      models.NotificationTypeEmail,
				Recipient: record.BuyerEmail,
				Subject:   subject,
				Content:   body,
				Metadata:  meta,
			})
		}
	}

	if record.BuyerPhone != nil {
		for _, channel := range []models.NotificationType{models.NotificationTypeWhatsApp, models.NotificationTypeSMS} {
			if !s.LegalBot.ChannelEnabled(channel) {
				continue
			}
			plans = append(plans, SendNotificationInput{
				InvoiceID: inv.ID,
				ConsentID: &consentID,
				Type:      channel,
				Recipient: *record.BuyerPhone,
				Content:   ShortNotice(inv, s),
			})
		}
	}

	if s.LegalBot.ChannelEnabled(models.NotificationTypeRegisteredPost) && strings.TrimSpace(inv.BuyerAddress) != "" {
		plans = append(plans, SendNotificationInput{
			InvoiceID: inv.ID,
			ConsentID: &consentID,
			Type:      models.NotificationTypeRegisteredPost,
			Recipient: inv.BuyerAddress,
			Content:   PostalNotice(inv, sellerName, s),
		})
	}

	return plans
}

// SendNotification records and dispatches a single message. The returned
// notification is either sent or failed.
func (m *ConsentManager) SendNotification(ctx context.Context, in SendNotificationInput) (*models.Notification, error) {
	ctx, span := tracer.Start(ctx, "ConsentManager.SendNotification")
	defer span.End()

	switch in.Type {
	case models.NotificationTypeEmail, models.NotificationTypeWhatsApp, models.NotificationTypeSMS, models.NotificationTypeRegisteredPost:
	default:
		return nil, &ValidationInputError{Field: "type", Reason: fmt.Sprintf("unknown notification type %q", in.Type)}
	}
	if strings.TrimSpace(in.Recipient) == "" {
		return nil, &ValidationInputError{Field: "recipient", Reason: "is required"}
	}
	if _, err := loadInvoice(m.db.WithContext(ctx).Select("id", "status"), in.InvoiceID); err != nil {
		return nil, err
	}

	var consent *models.ConsentRecord
	if in.ConsentID != nil && *in.ConsentID != "" {
		var record models.ConsentRecord
		if err := m.db.WithContext(ctx).First(&record, "id = ?", *in.ConsentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Entity: "consent_record", ID: *in.ConsentID}
			}
			return nil, err
		}
		if record.InvoiceID != in.InvoiceID {
			return nil, &ValidationInputError{Field: "consent_id", Reason: fmt.Sprintf("consent %s belongs to invoice %s", record.ID, record.InvoiceID)}
		}
		consent = &record
	}

	return m.send(ctx, in, consent)
}

func (m *ConsentManager) send(ctx context.Context, in SendNotificationInput, consent *models.ConsentRecord) (*models.Notification, error) {
	meta := datatypes.JSONMap{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.Subject != "" {
		meta["subject"] = in.Subject
	}

	n := &models.Notification{
		InvoiceID: in.InvoiceID,
		Type:      in.Type,
		Recipient: in.Recipient,
		Status:    models.NotificationStatusQueued,
		Content:   in.Content,
		Metadata:  meta,
	}
	if consent != nil {
		n.ConsentID = &consent.ID
	}
	if err := m.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("failed to queue %s notification: %w", in.Type, err)
	}

	// logged before the dispatch outcome is known
	if consent != nil {
		details := map[string]interface{}{
			"notification_id":    n.ID,
			"type":               string(n.Type),
			"recipient":          n.Recipient,
			"consent_window_end": consent.ConsentWindowEnd.UTC().Format(time.RFC3339),
		}
		if _, err := m.audit.appendConsentLog(m.db.WithContext(ctx), consent, models.ConsentEventNotificationSent, details, RequestMeta{}); err != nil {
			config.LogError(m.logger, "services", "send", "log notification_sent", n.ID, err)
		}
	}

	m.dispatch(ctx, n, in.Subject)
	return n, nil
}

func (m *ConsentManager) dispatch(ctx context.Context, n *models.Notification, subject string) {
	dctx, cancel := context.WithTimeout(ctx, m.dispatchTimeout)
	defer cancel()

	messageID, sendErr := m.transport.Send(dctx, utils.OutboundMessage{
		NotificationID: n.ID,
		InvoiceID:      n.InvoiceID,
		Type:           n.Type,
		Recipient:      n.Recipient,
		Subject:        subject,
		Content:        n.Content,
		Metadata:       n.Metadata,
	})
	if sendErr != nil {
		fields := logrus.Fields{"notification_id": n.ID, "channel": n.Type, "recipient": n.Recipient}
		if errors.Is(sendErr, ErrTransport) {
			m.logger.WithFields(fields).Warn("notification dispatch failed: " + sendErr.Error())
		} else {
			config.LogError(m.logger, "services", "dispatch", "send notification", fields, sendErr)
		}
	}

	if err := m.applyDispatchResult(ctx, n, messageID, sendErr); err != nil {
		config.LogError(m.logger, "services", "dispatch", "apply dispatch result", n.ID, err)
	}
}

// applyDispatchResult moves a queued notification to sent or failed. Applying
// the same result twice is a no-op.
func (m *ConsentManager) applyDispatchResult(ctx context.Context, n *models.Notification, messageID string, sendErr error) error {
	now := m.now()
	upd := models.Notification{UpdatedAt: now}
	columns := []string{"status", "updated_at"}

	if sendErr == nil {
		upd.Status = models.NotificationStatusSent
		upd.SentAt = &now
		columns = append(columns, "sent_at")
		if messageID != "" {
			upd.MessageID = &messageID
			columns = append(columns, "message_id")
		}
	} else {
		upd.Status = models.NotificationStatusFailed
		meta := datatypes.JSONMap{}
		for k, v := range n.Metadata {
			meta[k] = v
		}
		meta["error"] = sendErr.Error()
		upd.Metadata = meta
		columns = append(columns, "metadata")
	}

	res := m.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND status = ?", n.ID, models.NotificationStatusQueued).
		Select(columns).
		Updates(&upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		m.logger.WithField("notification_id", n.ID).Debug("dispatch result already applied")
		return nil
	}

	n.Status = upd.Status
	n.UpdatedAt = now
	n.SentAt = upd.SentAt
	n.MessageID = upd.MessageID
	if upd.Metadata != nil {
		n.Metadata = upd.Metadata
	}
	return nil
}

// UpdateNotificationStatus applies a delivery callback. Status only moves
// forward: queued/sent -> delivered -> read.
func (m *ConsentManager) UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, details map[string]interface{}) (*models.Notification, error) {
	var allowed []models.NotificationStatus
	var event models.ConsentEvent
	switch status {
	case models.NotificationStatusDelivered:
		allowed = []models.NotificationStatus{models.NotificationStatusQueued, models.NotificationStatusSent}
		event = models.ConsentEventNotificationDelivered
	case models.NotificationStatusRead:
		allowed = []models.NotificationStatus{models.NotificationStatusQueued, models.NotificationStatusSent, models.NotificationStatusDelivered}
		event = models.ConsentEventNotificationRead
	default:
		return nil, &ValidationInputError{Field: "status", Reason: fmt.Sprintf("callback status must be delivered or read, got %q", status)}
	}

	n, err := m.loadNotification(m.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if n.Status == status {
		return n, nil
	}

	now := m.now()
	upd := models.Notification{Status: status, UpdatedAt: now}
	columns := []string{"status", "updated_at"}
	if status == models.NotificationStatusDelivered || n.DeliveredAt == nil {
		upd.DeliveredAt = &now
		columns = append(columns, "delivered_at")
	}
	if status == models.NotificationStatusRead {
		upd.ReadAt = &now
		columns = append(columns, "read_at")
	}
	if mid, ok := details["message_id"].(string); ok && mid != "" {
		upd.MessageID = &mid
		columns = append(columns, "message_id")
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Notification{}).
			Where("id = ? AND status IN ?", id, allowed).
			Select(columns).
			Updates(&upd)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := m.loadNotification(tx, id)
			if err != nil {
				return err
			}
			if current.Status == status {
				return nil
			}
			names := make([]string, len(allowed))
			for i, s := range allowed {
				names[i] = string(s)
			}
			return &StateConflictError{Entity: "notification", ID: id, Expected: strings.Join(names, " or "), Actual: string(current.Status)}
		}

		if n.ConsentID == nil {
			return nil
		}
		var consent models.ConsentRecord
		if err := tx.Select("id", "invoice_id").First(&consent, "id = ?", *n.ConsentID).Error; err != nil {
			return err
		}
		logDetails := map[string]interface{}{"notification_id": id}
		for k, v := range details {
			logDetails[k] = v
		}
		_, err := m.audit.appendConsentLog(tx, &consent, event, logDetails, RequestMeta{})
		return err
	})
	if err != nil {
		return nil, err
	}

	return m.loadNotification(m.db.WithContext(ctx), id)
}

func (m *ConsentManager) loadNotification(db *gorm.DB, id string) (*models.Notification, error) {
	var n models.Notification
	if err := db.First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "notification", ID: id}
		}
		return nil, err
	}
	return &n, nil
}

func (m *ConsentManager) GetConsent(ctx context.Context, id string) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := m.withTrail(m.db.WithContext(ctx)).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "consent_record", ID: id}
		}
		return nil, err
	}
	return &record, nil
}

// GetConsentByInvoice returns the most recent consent record for an invoice.
func (m *ConsentManager) GetConsentByInvoice(ctx context.Context, invoiceID string) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := m.withTrail(m.db.WithContext(ctx)).
		Where("invoice_id = ?", invoiceID).
		Order("created_at desc").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "consent_record", ID: "for invoice " + invoiceID}
		}
		return nil, err
	}
	return &record, nil
}

func (m *ConsentManager) withTrail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Notifications", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at asc") }).
		Preload("Logs", func(tx *gorm.DB) *gorm.DB { return tx.Order("timestamp asc") })
}

// ResolveConsent records an explicit buyer decision on a pending record and
// moves the invoice accordingly.
func (m *ConsentManager) ResolveConsent(ctx context.Context, id string, target models.ConsentStatus, details map[string]interface{}, meta RequestMeta, actor string) (*models.ConsentRecord, error) {
	ctx, span := tracer.Start(ctx, "ConsentManager.ResolveConsent",
		trace.WithAttributes(attribute.String("consent.id", id), attribute.String("consent.target", string(target))))
	defer span.End()

	var event models.ConsentEvent
	var reason string
	switch target {
	case models.ConsentStatusAcknowledged:
		event, reason = models.ConsentEventExplicitConsent, "buyer acknowledged"
	case models.ConsentStatusDisputed:
		event, reason = models.ConsentEventDisputeRaised, "buyer disputed"
	default:
		return nil, &ValidationInputError{Field: "status", Reason: fmt.Sprintf("target status must be acknowledged or disputed, got %q", target)}
	}

	if _, err := m.resolve(ctx, id, target, details, event, reason, meta, actor); err != nil {
		return nil, err
	}
	return m.GetConsent(ctx, id)
}

// ExpireConsent closes a pending record whose window has already passed
// without treating silence as consent. The invoice is left as is.
func (m *ConsentManager) ExpireConsent(ctx context.Context, id string, meta RequestMeta, actor string) (*models.ConsentRecord, error) {
	record, err := m.GetConsent(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.now().Before(record.ConsentWindowEnd) {
		return nil, &ValidationInputError{
			Field:  "status",
			Reason: "consent window is open until " + record.ConsentWindowEnd.UTC().Format(time.RFC3339),
		}
	}

	details := map[string]interface{}{"consent_window_end": record.ConsentWindowEnd.UTC().Format(time.RFC3339)}
	if _, err := m.resolve(ctx, id, models.ConsentStatusExpired, details, models.ConsentEventWindowExpired, "consent window expired", meta, actor); err != nil {
		return nil, err
	}
	return m.GetConsent(ctx, id)
}

// SweepPassiveConsent resolves every pending record whose window has ended as
// passively acknowledged. A record that fails is logged and skipped; the ids
// that were resolved are returned.
func (m *ConsentManager) SweepPassiveConsent(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ConsentManager.SweepPassiveConsent")
	defer span.End()

	var due []models.ConsentRecord
	err := m.db.WithContext(ctx).
		Select("id", "invoice_id", "consent_window_end").
		Where("status = ? AND consent_window_end < ?", models.ConsentStatusPending, m.now()).
		Order("consent_window_end asc").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired consent windows: %w", err)
	}

	resolved := make([]string, 0, len(due))
	for _, c := range due {
		details := map[string]interface{}{
			"passive_consent":    true,
			"consent_window_end": c.ConsentWindowEnd.UTC().Format(time.RFC3339),
		}
		_, err := m.resolve(ctx, c.ID, models.ConsentStatusAcknowledged, details, models.ConsentEventPassiveConsent, "passive consent", RequestMeta{}, systemActor)
		switch {
		case err == nil:
			resolved = append(resolved, c.ID)
		case errors.Is(err, ErrStateConflict):
			m.logger.WithFields(logrus.Fields{"consent_id": c.ID, "invoice_id": c.InvoiceID}).Info("consent resolved concurrently; skipped")
		default:
			config.LogError(m.logger, "services", "SweepPassiveConsent", "resolve passive consent", c.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("consent.due", len(due)), attribute.Int("consent.resolved", len(resolved)))
	if len(due) > 0 {
		m.logger.WithFields(logrus.Fields{"due": len(due), "resolved": len(resolved)}).Info("passive consent sweep finished")
	}
	return resolved, nil
}

func (m *ConsentManager) LogEvent(ctx context.Context, consentID string, event models.ConsentEvent, details map[string]interface{}, meta RequestMeta) (*models.ConsentLog, error) {
	return m.audit.LogEvent(ctx, consentID, event, details, meta)
}

func (m *ConsentManager) resolve(
	ctx context.Context,
	id string,
	target models.ConsentStatus,
	details map[string]interface{},
	event models.ConsentEvent,
	reason string,
	meta RequestMeta,
	actor string,
) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	if err := m.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "consent_record", ID: id}
		}
		return nil, err
	}
	if record.Status != models.ConsentStatusPending {
		return nil, consentConflict(id, record.Status)
	}

	release := obtainInvoiceLock(ctx, m.locker, m.logger, record.InvoiceID)
	defer release()

	if details == nil {
		details = map[string]interface{}{}
	}
	now := m.now()
	ledger := LedgerEntry(target, details, now)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := models.ConsentRecord{
			Status:            target,
			ResolvedAt:        &now,
			ResolutionDetails: datatypes.JSONMap(details),
			LedgerEntry:       &ledger,
			UpdatedAt:         now,
		}
		columns := []string{"status", "resolved_at", "resolution_details", "ledger_entry", "updated_at"}
		if target == models.ConsentStatusDisputed {
			disputed := disputeReason(details)
			upd.DisputeReason = &disputed
			upd.DisputeDetails = datatypes.JSONMap(details)
			columns = append(columns, "dispute_reason", "dispute_details")
		}

		res := tx.Model(&models.ConsentRecord{}).
			Where("id = ? AND status = ?", id, models.ConsentStatusPending).
			Select(columns).
			Updates(&upd)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.ConsentRecord
			if err := tx.Select("id", "status").First(&current, "id = ?", id).Error; err != nil {
				return err
			}
			return consentConflict(id, current.Status)
		}

		record.Status = upd.Status
		record.ResolvedAt = upd.ResolvedAt
		record.ResolutionDetails = upd.ResolutionDetails
		record.LedgerEntry = upd.LedgerEntry
		record.DisputeReason = upd.DisputeReason
		record.DisputeDetails = upd.DisputeDetails
		record.UpdatedAt = now

		if _, err := m.audit.appendConsentLog(tx, &record, event, details, meta); err != nil {
			return err
		}
		_, err := m.lifecycle.applyConsentOutcome(tx, record.InvoiceID, target, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"consent_id": id,
		"invoice_id": record.InvoiceID,
		"status":     target,
		"event":      event,
	}).Info("consent resolved")
	return &record, nil
}

func consentConflict(id string, actual models.ConsentStatus) error {
	return &StateConflictError{
		Entity:   "consent_record",
		ID:       id,
		Expected: string(models.ConsentStatusPending),
		Actual:   string(actual),
	}
}
