// Package validation runs the rule checks over an invoice snapshot and turns
// their outcomes into a trust score and risk tier. Nothing here touches
// storage.
package validation

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/tevani-core/models"
)

var (
	invoiceNumberRegex = regexp.MustCompile(`^[A-Za-z0-9\-/]+$`)
	// state code, PAN (5 letters, 4 digits, 1 letter), then three alphanumerics
	gstinRegex = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]{3}$`)
)

var (
	lineItemTolerance    = decimal.NewFromFloat(0.01)
	roundAmountUnit      = decimal.NewFromInt(1000)
	highUnitPriceLimit   = decimal.NewFromInt(10000)
	shortPaymentTermDays = 7
)

// Check names. Unique within one evaluation run.
const (
	CheckInvoiceNumberFormat = "invoice_number_format"
	CheckInvoiceAmount       = "invoice_amount"
	CheckDateSequence        = "date_sequence"
	CheckGSTINFormat         = "gstin_format"
	CheckLineItemsTotal      = "line_items_total"
	CheckSupportingDocuments = "supporting_documents"
	CheckFileHash            = "file_hash"
	CheckRoundAmount         = "round_amount"
	CheckShortPaymentTerms   = "short_payment_terms"
	CheckHighUnitPrices      = "high_unit_prices"
)

// RunChecks evaluates every rule against the invoice in a fixed order:
// structural, then evidence, then anomaly screening.
func RunChecks(inv *models.Invoice) []models.CheckOutcome {
	checks := make([]models.CheckOutcome, 0, 10)
	checks = append(checks, structuralChecks(inv)...)
	checks = append(checks, evidenceChecks(inv)...)
	checks = append(checks, anomalyChecks(inv)...)
	return checks
}

func structuralChecks(inv *models.Invoice) []models.CheckOutcome {
	var results []models.CheckOutcome

	// not trimmed: stray whitespace is a format warning, not a missing number
	number := inv.InvoiceNumber
	switch {
	case number == "":
		results = append(results, outcome(CheckInvoiceNumberFormat, models.CheckResultFail,
			"Invoice number is missing", map[string]interface{}{}))
	case !invoiceNumberRegex.MatchString(number):
		results = append(results, outcome(CheckInvoiceNumberFormat, models.CheckResultWarning,
			"Invoice number format is unusual", map[string]interface{}{"invoice_number": number}))
	default:
		results = append(results, outcome(CheckInvoiceNumberFormat, models.CheckResultPass,
			"Invoice number format is valid", map[string]interface{}{"invoice_number": number}))
	}

	switch {
	case !inv.Amount.Valid:
		results = append(results, outcome(CheckInvoiceAmount, models.CheckResultFail,
			"Invoice amount is missing", map[string]interface{}{}))
	case !inv.Amount.Decimal.IsPositive():
		results = append(results, outcome(CheckInvoiceAmount, models.CheckResultFail,
			"Invoice amount must be positive", map[string]interface{}{"amount": inv.Amount.Decimal.String()}))
	default:
		results = append(results, outcome(CheckInvoiceAmount, models.CheckResultPass,
			"Invoice amount is valid", map[string]interface{}{"amount": inv.Amount.Decimal.String()}))
	}

	if inv.InvoiceDate != nil && inv.DueDate != nil {
		details := map[string]interface{}{
			"invoice_date": formatDate(*inv.InvoiceDate),
			"due_date":     formatDate(*inv.DueDate),
		}
		if inv.DueDate.Before(*inv.InvoiceDate) {
			results = append(results, outcome(CheckDateSequence, models.CheckResultFail,
				"Due date cannot be before invoice date", details))
		} else {
			results = append(results, outcome(CheckDateSequence, models.CheckResultPass,
				"Date sequence is valid", details))
		}
	}

	if gstin := strings.TrimSpace(inv.BuyerGSTIN); gstin != "" {
		if gstinRegex.MatchString(gstin) {
			results = append(results, outcome(CheckGSTINFormat, models.CheckResultPass,
				"GSTIN format is valid", map[string]interface{}{"gstin": gstin}))
		} else {
			results = append(results, outcome(CheckGSTINFormat, models.CheckResultWarning,
				"GSTIN format is invalid", map[string]interface{}{"gstin": gstin}))
		}
	}

	if len(inv.LineItems) > 0 {
		total := decimal.Zero
		for _, item := range inv.LineItems {
			total = total.Add(item.Amount)
		}
		amount := decimal.Zero
		if inv.Amount.Valid {
			amount = inv.Amount.Decimal
		}
		details := map[string]interface{}{
			"line_items_total": total.String(),
			"invoice_amount":   amount.String(),
		}
		if total.Sub(amount).Abs().GreaterThan(lineItemTolerance) {
			results = append(results, outcome(CheckLineItemsTotal, models.CheckResultWarning,
				"Line items total does not match invoice amount", details))
		} else {
			results = append(results, outcome(CheckLineItemsTotal, models.CheckResultPass,
				"Line items total matches invoice amount", details))
		}
	}

	return results
}

func evidenceChecks(inv *models.Invoice) []models.CheckOutcome {
	var results []models.CheckOutcome

	if n := len(inv.SupportingDocuments); n > 0 {
		results = append(results, outcome(CheckSupportingDocuments, models.CheckResultPass,
			"Supporting documents are present", map[string]interface{}{"count": n}))
	} else {
		results = append(results, outcome(CheckSupportingDocuments, models.CheckResultWarning,
			"No supporting documents provided", map[string]interface{}{}))
	}

	if inv.FileHash != "" {
		results = append(results, outcome(CheckFileHash, models.CheckResultPass,
			"File hash is present for tamper detection", map[string]interface{}{"hash": inv.FileHash}))
	} else {
		results = append(results, outcome(CheckFileHash, models.CheckResultWarning,
			"No file hash available for tamper detection", map[string]interface{}{}))
	}

	return results
}

func anomalyChecks(inv *models.Invoice) []models.CheckOutcome {
	var results []models.CheckOutcome

	if inv.Amount.Valid && !inv.Amount.Decimal.IsZero() && inv.Amount.Decimal.Mod(roundAmountUnit).IsZero() {
		results = append(results, outcome(CheckRoundAmount, models.CheckResultWarning,
			"Invoice amount is suspiciously round", map[string]interface{}{"amount": inv.Amount.Decimal.String()}))
	} else {
		details := map[string]interface{}{}
		if inv.Amount.Valid {
			details["amount"] = inv.Amount.Decimal.String()
		}
		results = append(results, outcome(CheckRoundAmount, models.CheckResultPass,
			"Invoice amount is not suspiciously round", details))
	}

	if inv.InvoiceDate != nil && inv.DueDate != nil {
		days := daysBetween(*inv.InvoiceDate, *inv.DueDate)
		if days < shortPaymentTermDays {
			results = append(results, outcome(CheckShortPaymentTerms, models.CheckResultWarning,
				"Payment terms are unusually short", map[string]interface{}{"days": days}))
		} else {
			results = append(results, outcome(CheckShortPaymentTerms, models.CheckResultPass,
				"Payment terms are reasonable", map[string]interface{}{"days": days}))
		}
	}

	if len(inv.LineItems) > 0 {
		var flagged []map[string]interface{}
		for _, item := range inv.LineItems {
			if item.UnitPrice.GreaterThan(highUnitPriceLimit) {
				flagged = append(flagged, map[string]interface{}{
					"description": item.Description,
					"quantity":    item.Quantity.String(),
					"unit_price":  item.UnitPrice.String(),
					"amount":      item.Amount.String(),
				})
			}
		}
		if len(flagged) > 0 {
			results = append(results, outcome(CheckHighUnitPrices, models.CheckResultWarning,
				"Some line items have unusually high unit prices", map[string]interface{}{"items": flagged}))
		} else {
			results = append(results, outcome(CheckHighUnitPrices, models.CheckResultPass,
				"Line item unit prices are within reasonable ranges", map[string]interface{}{}))
		}
	}

	return results
}

func outcome(name string, result models.CheckResult, message string, details map[string]interface{}) models.CheckOutcome {
	return models.CheckOutcome{CheckName: name, Result: result, Message: message, Details: details}
}

// daysBetween counts whole days from start to end, flooring like a calendar
// difference would for partial days.
func daysBetween(start, end time.Time) int {
	return int(math.Floor(end.Sub(start).Hours() / 24))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
