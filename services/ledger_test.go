package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/models"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"999", "999.00"},
		{"1000", "1,000.00"},
		{"125000.5", "125,000.50"},
		{"1234567.891", "1,234,567.89"},
		{"-4500", "-4,500.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAmount(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestLedgerEntry(t *testing.T) {
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "Explicit consent received on 2025-03-03T09:00:00Z.",
		LedgerEntry(models.ConsentStatusAcknowledged, nil, at))
	assert.Equal(t, "Passive consent recorded on 2025-03-03T09:00:00Z. No response received within the consent window.",
		LedgerEntry(models.ConsentStatusAcknowledged, map[string]interface{}{"passive_consent": true}, at))
	assert.Equal(t, "Dispute raised on 2025-03-03T09:00:00Z. Reason: No reason provided",
		LedgerEntry(models.ConsentStatusDisputed, map[string]interface{}{"reason": " "}, at))
	assert.Equal(t, "Consent window expired on 2025-03-03T09:00:00Z.",
		LedgerEntry(models.ConsentStatusExpired, nil, at))
}

func TestNoticesFallBackForMissingFields(t *testing.T) {
	s := config.DefaultSettings(nil)
	inv := &models.Invoice{Amount: decimal.NewNullDecimal(decimal.RequireFromString("5000.5")), BuyerAddress: "7 Park Street, Kolkata"}

	subject, body, err := EmailNotice(inv, "", s)
	require.NoError(t, err)
	assert.Equal(t, "Important: Invoice Unknown Assignment Notification", subject)
	assert.Contains(t, body, "Dear Sir/Madam,")
	assert.Contains(t, body, "by the seller.")
	assert.Contains(t, body, "₹5,000.50")

	short := ShortNotice(inv, s)
	assert.True(t, strings.HasPrefix(short, "TEVANI: Invoice #Unknown"))
	assert.Contains(t, short, "Reply within 48 hrs")

	letter := PostalNotice(inv, "Steelworks", s)
	assert.Contains(t, letter, "7 Park Street, Kolkata")
	assert.Contains(t, letter, "issued by Steelworks")
}

func TestEmailNoticeEscapesBuyerInput(t *testing.T) {
	inv := &models.Invoice{InvoiceNumber: "INV-9", BuyerName: "<script>alert(1)</script>"}
	_, body, err := EmailNotice(inv, "Seller", config.DefaultSettings(nil))
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestEmailNoticeSubjectIsSingleLine(t *testing.T) {
	inv := &models.Invoice{InvoiceNumber: "INV-1\r\nBcc: attacker@evil.example", BuyerName: "Acme"}
	subject, _, err := EmailNotice(inv, "Seller", config.DefaultSettings(nil))
	require.NoError(t, err)
	assert.NotContains(t, subject, "\r")
	assert.NotContains(t, subject, "\n")
	assert.Equal(t, "Important: Invoice INV-1 Bcc: attacker@evil.example Assignment Notification", subject)
}

func TestExportConsentAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.pendingConsentInvoice(t)
	record := env.openConsent(t, inv)

	env.clock.Advance(time.Hour)
	_, err := env.consent.ResolveConsent(ctx, record.ID, models.ConsentStatusAcknowledged, nil,
		RequestMeta{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}, "buyer")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.consent.ExportConsentAudit(ctx, record.ID, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{trailSheet, notificationsSheet}, f.GetSheetList())

	rows, err := f.GetRows(trailSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Consent ID", record.ID}, rows[0])
	assert.Equal(t, []string{"Status", "acknowledged"}, rows[3])
	assert.Equal(t, "Timestamp", rows[9][0])
	require.Len(t, rows, 12)
	assert.Equal(t, "notification_sent", rows[10][1])
	assert.Equal(t, "explicit_consent", rows[11][1])
	assert.Equal(t, "203.0.113.7", rows[11][3])

	notifications, err := f.GetRows(notificationsSheet)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "email", notifications[1][1])
	assert.Equal(t, "sent", notifications[1][3])

	err = env.consent.ExportConsentAudit(ctx, "missing", &buf)
	assert.ErrorIs(t, err, ErrNotFound)
}
