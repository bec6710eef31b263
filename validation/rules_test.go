package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/tevani-core/models"
)

func amount(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func date(t time.Time) *time.Time {
	return &t
}

func cleanInvoice() *models.Invoice {
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Invoice{
		InvoiceNumber: "INV-2025/001",
		Amount:        amount("125500"),
		InvoiceDate:   date(issued),
		DueDate:       date(issued.AddDate(0, 0, 30)),
		BuyerName:     "Acme Traders",
		BuyerGSTIN:    "27AAPFU0939F1ZV",
		LineItems: []models.LineItem{{
			Description: "Steel rods",
			Quantity:    decimal.NewFromInt(251),
			UnitPrice:   decimal.NewFromInt(500),
			Amount:      decimal.NewFromInt(125500),
		}},
		SupportingDocuments: []string{"po-7781.pdf"},
		FileHash:            "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}
}

func findCheck(t *testing.T, checks []models.CheckOutcome, name string) models.CheckOutcome {
	t.Helper()
	for _, c := range checks {
		if c.CheckName == name {
			return c
		}
	}
	t.Fatalf("check %s not emitted", name)
	return models.CheckOutcome{}
}

func hasCheck(checks []models.CheckOutcome, name string) bool {
	for _, c := range checks {
		if c.CheckName == name {
			return true
		}
	}
	return false
}

func TestRunChecksOrderIsStable(t *testing.T) {
	checks := RunChecks(cleanInvoice())

	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.CheckName)
		assert.Equal(t, models.CheckResultPass, c.Result, c.CheckName)
	}
	assert.Equal(t, []string{
		CheckInvoiceNumberFormat,
		CheckInvoiceAmount,
		CheckDateSequence,
		CheckGSTINFormat,
		CheckLineItemsTotal,
		CheckSupportingDocuments,
		CheckFileHash,
		CheckRoundAmount,
		CheckShortPaymentTerms,
		CheckHighUnitPrices,
	}, names)
}

func TestStructuralChecks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(inv *models.Invoice)
		check    string
		expected models.CheckResult
	}{
		{"Missing invoice number", func(inv *models.Invoice) { inv.InvoiceNumber = "" }, CheckInvoiceNumberFormat, models.CheckResultFail},
		{"Unusual invoice number", func(inv *models.Invoice) { inv.InvoiceNumber = "INV#001" }, CheckInvoiceNumberFormat, models.CheckResultWarning},
		{"Padded invoice number", func(inv *models.Invoice) { inv.InvoiceNumber = " INV-1 " }, CheckInvoiceNumberFormat, models.CheckResultWarning},
		{"Whitespace invoice number", func(inv *models.Invoice) { inv.InvoiceNumber = "   " }, CheckInvoiceNumberFormat, models.CheckResultWarning},
		{"Invoice number with line break", func(inv *models.Invoice) { inv.InvoiceNumber = "INV-1\r\nBcc: x@y.example" }, CheckInvoiceNumberFormat, models.CheckResultWarning},
		{"Missing amount", func(inv *models.Invoice) { inv.Amount = decimal.NullDecimal{} }, CheckInvoiceAmount, models.CheckResultFail},
		{"Zero amount", func(inv *models.Invoice) { inv.Amount = amount("0") }, CheckInvoiceAmount, models.CheckResultFail},
		{"Negative amount", func(inv *models.Invoice) { inv.Amount = amount("-10") }, CheckInvoiceAmount, models.CheckResultFail},
		{"Due before issue", func(inv *models.Invoice) { inv.DueDate = date(inv.InvoiceDate.AddDate(0, 0, -1)) }, CheckDateSequence, models.CheckResultFail},
		{"Due on issue day", func(inv *models.Invoice) { inv.DueDate = date(*inv.InvoiceDate) }, CheckDateSequence, models.CheckResultPass},
		{"Malformed GSTIN", func(inv *models.Invoice) { inv.BuyerGSTIN = "27AAPFU0939" }, CheckGSTINFormat, models.CheckResultWarning},
		{"Lowercase GSTIN", func(inv *models.Invoice) { inv.BuyerGSTIN = "27aapfu0939f1zv" }, CheckGSTINFormat, models.CheckResultWarning},
		{"GSTIN without Z", func(inv *models.Invoice) { inv.BuyerGSTIN = "27AAPFU0939F0A5" }, CheckGSTINFormat, models.CheckResultPass},
		{"GSTIN too long", func(inv *models.Invoice) { inv.BuyerGSTIN = "27AAPFU0939F1ZV9" }, CheckGSTINFormat, models.CheckResultWarning},
		{"Line items off by more than a paisa", func(inv *models.Invoice) { inv.LineItems[0].Amount = decimal.RequireFromString("125499.98") }, CheckLineItemsTotal, models.CheckResultWarning},
		{"Line items within tolerance", func(inv *models.Invoice) { inv.LineItems[0].Amount = decimal.RequireFromString("125499.99") }, CheckLineItemsTotal, models.CheckResultPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := cleanInvoice()
			tt.mutate(inv)
			got := findCheck(t, RunChecks(inv), tt.check)
			assert.Equal(t, tt.expected, got.Result)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestOptionalChecksAreSkipped(t *testing.T) {
	inv := cleanInvoice()
	inv.BuyerGSTIN = ""
	inv.LineItems = nil
	inv.DueDate = nil

	checks := RunChecks(inv)

	assert.False(t, hasCheck(checks, CheckGSTINFormat))
	assert.False(t, hasCheck(checks, CheckLineItemsTotal))
	assert.False(t, hasCheck(checks, CheckHighUnitPrices))
	assert.False(t, hasCheck(checks, CheckDateSequence))
	assert.False(t, hasCheck(checks, CheckShortPaymentTerms))
	assert.True(t, hasCheck(checks, CheckRoundAmount))
	assert.True(t, hasCheck(checks, CheckSupportingDocuments))
}

func TestEvidenceChecks(t *testing.T) {
	inv := cleanInvoice()
	inv.SupportingDocuments = nil
	inv.FileHash = ""

	checks := RunChecks(inv)

	assert.Equal(t, models.CheckResultWarning, findCheck(t, checks, CheckSupportingDocuments).Result)
	assert.Equal(t, models.CheckResultWarning, findCheck(t, checks, CheckFileHash).Result)
}

func TestAnomalyChecks(t *testing.T) {
	t.Run("Round amount", func(t *testing.T) {
		inv := cleanInvoice()
		inv.Amount = amount("50000")
		assert.Equal(t, models.CheckResultWarning, findCheck(t, RunChecks(inv), CheckRoundAmount).Result)
	})

	t.Run("Non round amount", func(t *testing.T) {
		inv := cleanInvoice()
		inv.Amount = amount("50000.50")
		assert.Equal(t, models.CheckResultPass, findCheck(t, RunChecks(inv), CheckRoundAmount).Result)
	})

	t.Run("Short payment terms", func(t *testing.T) {
		inv := cleanInvoice()
		inv.DueDate = date(inv.InvoiceDate.AddDate(0, 0, 6))
		got := findCheck(t, RunChecks(inv), CheckShortPaymentTerms)
		assert.Equal(t, models.CheckResultWarning, got.Result)
		assert.Equal(t, 6, got.Details["days"])
	})

	t.Run("Seven day terms are fine", func(t *testing.T) {
		inv := cleanInvoice()
		inv.DueDate = date(inv.InvoiceDate.AddDate(0, 0, 7))
		assert.Equal(t, models.CheckResultPass, findCheck(t, RunChecks(inv), CheckShortPaymentTerms).Result)
	})

	t.Run("High unit price lists offending items", func(t *testing.T) {
		inv := cleanInvoice()
		inv.LineItems = append(inv.LineItems, models.LineItem{
			Description: "Turbine",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(10001),
			Amount:      decimal.NewFromInt(10001),
		})
		got := findCheck(t, RunChecks(inv), CheckHighUnitPrices)
		assert.Equal(t, models.CheckResultWarning, got.Result)
		items, ok := got.Details["items"].([]map[string]interface{})
		require.True(t, ok)
		require.Len(t, items, 1)
		assert.Equal(t, "Turbine", items[0]["description"])
	})
}

func TestEvaluateScenarios(t *testing.T) {
	t.Run("Clean invoice scores 100", func(t *testing.T) {
		got := Evaluate(cleanInvoice(), AutomaticScoringPolicy{})
		assert.Equal(t, 100, got.TrustScore)
		assert.Equal(t, models.RiskTierA, got.RiskTier)
		assert.Equal(t, models.InvoiceStatusPendingConsent, got.NextStatus)
	})

	t.Run("Amount of 125000 is flagged as round", func(t *testing.T) {
		inv := cleanInvoice()
		inv.Amount = amount("125000")
		inv.LineItems = []models.LineItem{{
			Description: "Steel rods",
			Quantity:    decimal.NewFromInt(125),
			UnitPrice:   decimal.NewFromInt(1000),
			Amount:      decimal.NewFromInt(125000),
		}}

		got := Evaluate(inv, AutomaticScoringPolicy{})

		assert.Equal(t, models.CheckResultWarning, findCheck(t, got.Checks, CheckRoundAmount).Result)
		assert.Equal(t, 95, got.TrustScore)
		assert.Equal(t, models.RiskTierA, got.RiskTier)
		assert.Equal(t, models.InvoiceStatusPendingConsent, got.NextStatus)
	})

	t.Run("Zero amount is rejected", func(t *testing.T) {
		inv := cleanInvoice()
		inv.Amount = amount("0")

		got := Evaluate(inv, AutomaticScoringPolicy{})

		assert.Equal(t, models.CheckResultFail, findCheck(t, got.Checks, CheckInvoiceAmount).Result)
		assert.Equal(t, models.InvoiceStatusRejected, got.NextStatus)
	})

	t.Run("Evaluation is repeatable", func(t *testing.T) {
		inv := cleanInvoice()
		inv.BuyerGSTIN = "bad"
		assert.Equal(t, Evaluate(inv, AutomaticScoringPolicy{}), Evaluate(inv, AutomaticScoringPolicy{}))
	})
}
