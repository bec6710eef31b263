package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/utils"
	"github.com/yourusername/tevani-core/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tevani-core/services")

const lockTTL = 30 * time.Second

// ExtractedInvoice is the best-effort snapshot produced by document
// extraction. It only ever fills blanks.
type ExtractedInvoice struct {
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	InvoiceDate   *time.Time          `json:"invoice_date,omitempty"`
	DueDate       *time.Time          `json:"due_date,omitempty"`
	BuyerName     string              `json:"buyer_name,omitempty"`
	BuyerEmail    string              `json:"buyer_email,omitempty"`
	BuyerPhone    string              `json:"buyer_phone,omitempty"`
	BuyerGSTIN    string              `json:"buyer_gstin,omitempty"`
	BuyerAddress  string              `json:"buyer_address,omitempty"`
	LineItems     []models.LineItem   `json:"line_items,omitempty"`
	Confidence    float64             `json:"confidence,omitempty"`
}

type CreateInvoiceInput struct {
	SellerID            string              `json:"seller_id"`
	InvoiceNumber       string              `json:"invoice_number"`
	Amount              decimal.NullDecimal `json:"amount"`
	Currency            string              `json:"currency"`
	InvoiceDate         *time.Time          `json:"invoice_date"`
	DueDate             *time.Time          `json:"due_date"`
	Description         string              `json:"description"`
	BuyerName           string              `json:"buyer_name"`
	BuyerEmail          string              `json:"buyer_email" binding:"omitempty,email"`
	BuyerPhone          string              `json:"buyer_phone"`
	BuyerGSTIN          string              `json:"buyer_gstin"`
	BuyerAddress        string              `json:"buyer_address"`
	PurchaseOrderNumber string              `json:"purchase_order_number"`
	Terms               string              `json:"terms"`
	LineItems           []models.LineItem   `json:"line_items"`
	SupportingDocuments []string            `json:"supporting_documents"`
	FileHash            string              `json:"hash"`
	Extracted           *ExtractedInvoice   `json:"extracted,omitempty"`
}

func (in *CreateInvoiceInput) mergeExtracted() {
	ex := in.Extracted
	if ex == nil {
		return
	}
	if in.InvoiceNumber == "" {
		in.InvoiceNumber = ex.InvoiceNumber
	}
	if !in.Amount.Valid {
		in.Amount = ex.Amount
	}
	if in.InvoiceDate == nil {
		in.InvoiceDate = ex.InvoiceDate
	}
	if in.DueDate == nil {
		in.DueDate = ex.DueDate
	}
	if in.BuyerName == "" {
		in.BuyerName = ex.BuyerName
	}
	if in.BuyerEmail == "" {
		in.BuyerEmail = ex.BuyerEmail
	}
	if in.BuyerPhone == "" {
		in.BuyerPhone = ex.BuyerPhone
	}
	if in.BuyerGSTIN == "" {
		in.BuyerGSTIN = ex.BuyerGSTIN
	}
	if in.BuyerAddress == "" {
		in.BuyerAddress = ex.BuyerAddress
	}
	if len(in.LineItems) == 0 {
		in.LineItems = ex.LineItems
	}
}

func (in *CreateInvoiceInput) extractedSnapshot() (datatypes.JSONMap, error) {
	if in.Extracted == nil {
		return nil, nil
	}
	raw, err := json.Marshal(in.Extracted)
	if err != nil {
		return nil, err
	}
	snapshot := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (in *CreateInvoiceInput) invoice() *models.Invoice {
	inv := &models.Invoice{
		SellerID:            in.SellerID,
		InvoiceNumber:       in.InvoiceNumber,
		Amount:              in.Amount,
		Currency:            in.Currency,
		InvoiceDate:         in.InvoiceDate,
		DueDate:             in.DueDate,
		Description:         in.Description,
		BuyerName:           strings.TrimSpace(in.BuyerName),
		BuyerEmail:          strings.TrimSpace(in.BuyerEmail),
		BuyerPhone:          strings.TrimSpace(in.BuyerPhone),
		BuyerGSTIN:          strings.TrimSpace(in.BuyerGSTIN),
		BuyerAddress:        in.BuyerAddress,
		PurchaseOrderNumber: in.PurchaseOrderNumber,
		Terms:               in.Terms,
		LineItems:           in.LineItems,
		SupportingDocuments: in.SupportingDocuments,
		FileHash:            in.FileHash,
		Status:              models.InvoiceStatusPendingValidation,
	}
	if inv.Currency == "" {
		inv.Currency = "INR"
	}
	return inv
}

type FundingInput struct {
	InvestorID string          `json:"investor_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Reference  string          `json:"reference"`
}

type ValidationStats struct {
	Total             int64            `json:"total"`
	ByTier            map[string]int64 `json:"by_tier"`
	ByStatus          map[string]int64 `json:"by_status"`
	AverageTrustScore float64          `json:"average_trust_score"`
}

// InvoiceLifecycle owns the invoice status machine. Every transition is a
// conditional update on the current status, so a concurrent writer that got
// there first turns the loser into a StateConflictError.
type InvoiceLifecycle struct {
	db     *gorm.DB
	audit  *AuditLog
	locker utils.Locker
	logger *logrus.Logger
	now    func() time.Time
}

func NewInvoiceLifecycle(db *gorm.DB, audit *AuditLog, locker utils.Locker, logger *logrus.Logger) *InvoiceLifecycle {
	if locker == nil {
		locker = utils.NoopLocker{}
	}
	return &InvoiceLifecycle{
		db:     db,
		audit:  audit,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *InvoiceLifecycle) CreateInvoice(ctx context.Context, in CreateInvoiceInput, actor string) (*models.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceLifecycle.CreateInvoice")
	defer span.End()

	in.mergeExtracted()
	if strings.TrimSpace(in.SellerID) == "" {
		return nil, &ValidationInputError{Field: "seller_id", Reason: "is required"}
	}
	if strings.TrimSpace(in.BuyerName) == "" {
		return nil, &ValidationInputError{Field: "buyer_name", Reason: "is required"}
	}
	snapshot, err := in.extractedSnapshot()
	if err != nil {
		return nil, &ValidationInputError{Field: "extracted", Reason: err.Error()}
	}

	inv := in.invoice()
	inv.OCRData = snapshot

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return l.audit.recordStatusChange(tx, inv.ID, "", inv.Status, "invoice created", actor)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{"invoice_id": inv.ID, "seller_id": inv.SellerID}).Info("invoice created")
	return inv, nil
}

func (l *InvoiceLifecycle) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return loadInvoice(l.db.WithContext(ctx), id)
}

// InvoiceSeller reports who owns an invoice. found is false for unknown or
// deleted invoices.
func (l *InvoiceLifecycle) InvoiceSeller(ctx context.Context, id string) (string, bool, error) {
	var inv models.Invoice
	err := l.db.WithContext(ctx).Select("id", "seller_id").First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return inv.SellerID, true, nil
}

// Evaluate scores a draft invoice without persisting anything.
func (l *InvoiceLifecycle) Evaluate(in CreateInvoiceInput) validation.Evaluation {
	in.mergeExtracted()
	return validation.Evaluate(in.invoice(), validation.AutomaticScoringPolicy{})
}

var revalidatableStatuses = []models.InvoiceStatus{models.InvoiceStatusPendingValidation, models.InvoiceStatusRejected}

// ValidateInvoice runs the automatic pipeline and stores outcomes, score,
// tier and next status in one update.
func (l *InvoiceLifecycle) ValidateInvoice(ctx context.Context, id string, actor string) (*models.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceLifecycle.ValidateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	release := l.lock(ctx, id)
	defer release()

	var out *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !statusIn(inv.Status, revalidatableStatuses) {
			return conflictFor(id, revalidatableStatuses, inv.Status)
		}
		eval := validation.Evaluate(inv, validation.AutomaticScoringPolicy{})
		if err := l.applyEvaluation(tx, inv, eval, "automatic validation", actor); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("invoice.trust_score", *out.TrustScore), attribute.String("invoice.status", string(out.Status)))
	l.logger.WithFields(logrus.Fields{
		"invoice_id":  id,
		"trust_score": *out.TrustScore,
		"risk_tier":   *out.RiskTier,
		"status":      out.Status,
	}).Info("invoice validated")
	return out, nil
}

// ManualReview scores administrator-supplied outcomes with the manual review
// policy.
func (l *InvoiceLifecycle) ManualReview(ctx context.Context, id string, checks []models.CheckOutcome, actor string) (*models.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceLifecycle.ManualReview")
	defer span.End()

	if len(checks) == 0 {
		return nil, &ValidationInputError{Field: "validation_results", Reason: "at least one check outcome is required"}
	}
	seen := make(map[string]bool, len(checks))
	for _, c := range checks {
		if strings.TrimSpace(c.CheckName) == "" {
			return nil, &ValidationInputError{Field: "check_name", Reason: "is required"}
		}
		if seen[c.CheckName] {
			return nil, &ValidationInputError{Field: "check_name", Reason: fmt.Sprintf("duplicate check %q", c.CheckName)}
		}
		seen[c.CheckName] = true
		switch c.Result {
		case models.CheckResultPass, models.CheckResultWarning, models.CheckResultFail:
		default:
			return nil, &ValidationInputError{Field: "result", Reason: fmt.Sprintf("unknown result %q for %s", c.Result, c.CheckName)}
		}
	}

	release := l.lock(ctx, id)
	defer release()

	var out *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !statusIn(inv.Status, revalidatableStatuses) {
			return conflictFor(id, revalidatableStatuses, inv.Status)
		}
		eval := validation.Score(checks, validation.ManualReviewScoringPolicy{})
		if err := l.applyEvaluation(tx, inv, eval, "manual review", actor); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *InvoiceLifecycle) applyEvaluation(tx *gorm.DB, inv *models.Invoice, eval validation.Evaluation, reason, actor string) error {
	score := eval.TrustScore
	tier := eval.RiskTier
	from := inv.Status

	upd := &models.Invoice{
		Status:            eval.NextStatus,
		TrustScore:        &score,
		RiskTier:          &tier,
		ValidationResults: eval.Checks,
	}
	if err := l.transition(tx, inv.ID, []models.InvoiceStatus{from}, upd, "status", "trust_score", "risk_tier", "validation_results"); err != nil {
		return err
	}
	if err := l.audit.recordStatusChange(tx, inv.ID, from, eval.NextStatus, fmt.Sprintf("%s (%s policy)", reason, eval.Policy), actor); err != nil {
		return err
	}

	inv.Status = upd.Status
	inv.TrustScore = upd.TrustScore
	inv.RiskTier = upd.RiskTier
	inv.ValidationResults = upd.ValidationResults
	inv.UpdatedAt = upd.UpdatedAt
	return nil
}

// RejectInvoice is the administrative rejection of an invoice that has not
// been validated yet.
func (l *InvoiceLifecycle) RejectInvoice(ctx context.Context, id, reason, actor string) (*models.Invoice, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationInputError{Field: "reason", Reason: "is required"}
	}

	release := l.lock(ctx, id)
	defer release()

	var out *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		from := []models.InvoiceStatus{models.InvoiceStatusPendingValidation}
		upd := &models.Invoice{Status: models.InvoiceStatusRejected}
		if err := l.transition(tx, id, from, upd, "status"); err != nil {
			return err
		}
		if err := l.audit.recordStatusChange(tx, id, inv.Status, upd.Status, reason, actor); err != nil {
			return err
		}
		inv.Status = upd.Status
		inv.UpdatedAt = upd.UpdatedAt
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordFunding books an investment against a validated invoice. The invoice
// moves to funded once the investments cover the available amount.
func (l *InvoiceLifecycle) RecordFunding(ctx context.Context, id string, in FundingInput, actor string) (*models.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceLifecycle.RecordFunding")
	defer span.End()

	if !in.Amount.IsPositive() {
		return nil, &ValidationInputError{Field: "amount", Reason: "must be positive"}
	}

	release := l.lock(ctx, id)
	defer release()

	var out *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceStatusValidated {
			return conflictFor(id, []models.InvoiceStatus{models.InvoiceStatusValidated}, inv.Status)
		}

		funded := inv.FundedAmount.Add(in.Amount)
		if funded.GreaterThan(inv.AvailableAmount) {
			return &ValidationInputError{
				Field:  "amount",
				Reason: fmt.Sprintf("exceeds remaining available amount %s", inv.AvailableAmount.Sub(inv.FundedAmount).StringFixed(2)),
			}
		}
		next := inv.Status
		if funded.Equal(inv.AvailableAmount) {
			next = models.InvoiceStatusFunded
		}

		now := l.now()
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ? AND funded_amount = ?", id, inv.Status, inv.FundedAmount).
			Select("status", "funded_amount", "updated_at").
			Updates(&models.Invoice{Status: next, FundedAmount: funded, UpdatedAt: now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return l.conflict(tx, id, []models.InvoiceStatus{models.InvoiceStatusValidated})
		}

		investment := models.Investment{
			InvoiceID:  id,
			InvestorID: in.InvestorID,
			Amount:     in.Amount,
			Reference:  in.Reference,
			Status:     "active",
		}
		if err := tx.Create(&investment).Error; err != nil {
			return fmt.Errorf("failed to record investment: %w", err)
		}
		if next != inv.Status {
			if err := l.audit.recordStatusChange(tx, id, inv.Status, next, "fully funded", actor); err != nil {
				return err
			}
		}

		inv.Status = next
		inv.FundedAmount = funded
		inv.UpdatedAt = now
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Settle closes a funded invoice as paid or defaulted.
func (l *InvoiceLifecycle) Settle(ctx context.Context, id string, outcome models.InvoiceStatus, actor string) (*models.Invoice, error) {
	investmentStatus := ""
	switch outcome {
	case models.InvoiceStatusPaid:
		investmentStatus = "settled"
	case models.InvoiceStatusDefaulted:
		investmentStatus = "defaulted"
	default:
		return nil, &ValidationInputError{Field: "status", Reason: fmt.Sprintf("settlement outcome must be paid or defaulted, got %q", outcome)}
	}

	release := l.lock(ctx, id)
	defer release()

	var out *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		upd := &models.Invoice{Status: outcome}
		if err := l.transition(tx, id, []models.InvoiceStatus{models.InvoiceStatusFunded}, upd, "status"); err != nil {
			return err
		}
		if err := tx.Model(&models.Investment{}).Where("invoice_id = ? AND status = ?", id, "active").
			Update("status", investmentStatus).Error; err != nil {
			return err
		}
		if err := l.audit.recordStatusChange(tx, id, inv.Status, outcome, "settlement", actor); err != nil {
			return err
		}
		inv.Status = outcome
		inv.UpdatedAt = upd.UpdatedAt
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteInvoice soft-deletes an invoice that is still pending validation or
// was rejected.
func (l *InvoiceLifecycle) DeleteInvoice(ctx context.Context, id, actor string) error {
	release := l.lock(ctx, id)
	defer release()

	deletable := []models.InvoiceStatus{models.InvoiceStatusPendingValidation, models.InvoiceStatusRejected}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !inv.Deletable() {
			return conflictFor(id, deletable, inv.Status)
		}
		res := tx.Where("id = ? AND status IN ?", id, deletable).Delete(&models.Invoice{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return l.conflict(tx, id, deletable)
		}
		l.logger.WithFields(logrus.Fields{"invoice_id": id, "action_by": actor}).Info("invoice deleted")
		return nil
	})
}

func (l *InvoiceLifecycle) Stats(ctx context.Context) (*ValidationStats, error) {
	db := l.db.WithContext(ctx)
	stats := &ValidationStats{ByTier: map[string]int64{}, ByStatus: map[string]int64{}}

	type bucket struct {
		Label string
		Count int64
	}

	var tiers []bucket
	if err := db.Model(&models.Invoice{}).Select("risk_tier AS label, COUNT(*) AS count").
		Where("risk_tier IS NOT NULL").Group("risk_tier").Scan(&tiers).Error; err != nil {
		return nil, err
	}
	for _, b := range tiers {
		stats.ByTier[b.Label] = b.Count
	}

	var statuses []bucket
	if err := db.Model(&models.Invoice{}).Select("status AS label, COUNT(*) AS count").
		Group("status").Scan(&statuses).Error; err != nil {
		return nil, err
	}
	for _, b := range statuses {
		stats.ByStatus[b.Label] = b.Count
		stats.Total += b.Count
	}

	if err := db.Model(&models.Invoice{}).Select("COALESCE(AVG(trust_score), 0)").
		Where("trust_score IS NOT NULL").Row().Scan(&stats.AverageTrustScore); err != nil {
		return nil, err
	}
	return stats, nil
}

// applyConsentOutcome drives the invoice from pending_consent once its
// consent record resolves. Runs inside the consent transaction. Returns false
// when the invoice has already left pending_consent.
func (l *InvoiceLifecycle) applyConsentOutcome(tx *gorm.DB, invoiceID string, outcome models.ConsentStatus, reason, actor string) (bool, error) {
	inv, err := loadInvoice(tx, invoiceID)
	if err != nil {
		return false, err
	}

	upd := &models.Invoice{}
	columns := []string{"status"}
	switch outcome {
	case models.ConsentStatusAcknowledged:
		upd.Status = models.InvoiceStatusValidated
		if inv.Amount.Valid {
			upd.AvailableAmount = inv.Amount.Decimal
		}
		columns = append(columns, "available_amount")
	case models.ConsentStatusDisputed:
		upd.Status = models.InvoiceStatusRejected
	default:
		return false, nil
	}

	if inv.Status != models.InvoiceStatusPendingConsent {
		l.logger.WithFields(logrus.Fields{
			"invoice_id": invoiceID,
			"status":     inv.Status,
			"consent":    outcome,
		}).Warn("invoice no longer pending consent; status left unchanged")
		return false, nil
	}

	if err := l.transition(tx, invoiceID, []models.InvoiceStatus{models.InvoiceStatusPendingConsent}, upd, columns...); err != nil {
		return false, err
	}
	if err := l.audit.recordStatusChange(tx, invoiceID, inv.Status, upd.Status, reason, actor); err != nil {
		return false, err
	}
	return true, nil
}

func (l *InvoiceLifecycle) transition(tx *gorm.DB, id string, from []models.InvoiceStatus, values *models.Invoice, columns ...string) error {
	values.UpdatedAt = l.now()
	res := tx.Model(&models.Invoice{}).
		Where("id = ? AND status IN ?", id, from).
		Select(append(columns, "updated_at")).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return l.conflict(tx, id, from)
	}
	return nil
}

func (l *InvoiceLifecycle) conflict(tx *gorm.DB, id string, expected []models.InvoiceStatus) error {
	current, err := loadInvoice(tx, id)
	if err != nil {
		return err
	}
	return conflictFor(id, expected, current.Status)
}

func (l *InvoiceLifecycle) lock(ctx context.Context, invoiceID string) func() {
	return obtainInvoiceLock(ctx, l.locker, l.logger, invoiceID)
}

func obtainInvoiceLock(ctx context.Context, locker utils.Locker, logger *logrus.Logger, invoiceID string) func() {
	release, err := locker.Lock(ctx, "invoice:"+invoiceID, lockTTL)
	if err != nil {
		logger.WithField("invoice_id", invoiceID).Warn("could not obtain invoice lock; proceeding without lock: " + err.Error())
		return func() {}
	}
	return release
}

func loadInvoice(db *gorm.DB, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := db.First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "invoice", ID: id}
		}
		return nil, err
	}
	return &inv, nil
}

func conflictFor(id string, expected []models.InvoiceStatus, actual models.InvoiceStatus) error {
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return &StateConflictError{Entity: "invoice", ID: id, Expected: strings.Join(names, " or "), Actual: string(actual)}
}

func statusIn(s models.InvoiceStatus, set []models.InvoiceStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// currentSettings never fails: a source error is logged and whatever the
// source fell back to is used.
func currentSettings(ctx context.Context, source config.SettingsSource, logger *logrus.Logger) config.Settings {
	if source == nil {
		return config.DefaultSettings(nil)
	}
	s, err := source.Current(ctx)
	if err != nil {
		config.LogError(logger, "services", "currentSettings", "load settings", nil, err)
	}
	return s
}
