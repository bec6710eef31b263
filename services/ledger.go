package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/models"
)

// LedgerEntry is the human-readable line stored on a consent record when it
// resolves.
func LedgerEntry(status models.ConsentStatus, details map[string]interface{}, at time.Time) string {
	ts := at.UTC().Format(time.RFC3339)
	switch status {
	case models.ConsentStatusAcknowledged:
		if passive, _ := details["passive_consent"].(bool); passive {
			return fmt.Sprintf("Passive consent recorded on %s. No response received within the consent window.", ts)
		}
		return fmt.Sprintf("Explicit consent received on %s.", ts)
	case models.ConsentStatusDisputed:
		return fmt.Sprintf("Dispute raised on %s. Reason: %s", ts, disputeReason(details))
	case models.ConsentStatusExpired:
		return fmt.Sprintf("Consent window expired on %s.", ts)
	}
	return fmt.Sprintf("Consent status updated to %s on %s.", status, ts)
}

func disputeReason(details map[string]interface{}) string {
	if reason, ok := details["reason"].(string); ok && strings.TrimSpace(reason) != "" {
		return reason
	}
	return "No reason provided"
}

type noticeData struct {
	PlatformName  string
	SupportEmail  string
	BuyerName     string
	SellerName    string
	InvoiceNumber string
	Amount        string
	WindowHours   int
}

func newNoticeData(inv *models.Invoice, sellerName string, s config.Settings) noticeData {
	d := noticeData{
		PlatformName:  s.Platform.PlatformName,
		SupportEmail:  s.Platform.SupportEmail,
		BuyerName:     inv.BuyerName,
		SellerName:    sellerName,
		InvoiceNumber: inv.InvoiceNumber,
		WindowHours:   s.LegalBot.ConsentWindowHours,
	}
	if d.BuyerName == "" {
		d.BuyerName = "Sir/Madam"
	}
	if d.SellerName == "" {
		d.SellerName = "the seller"
	}
	if d.InvoiceNumber == "" {
		d.InvoiceNumber = "Unknown"
	}
	amount := decimal.Zero
	if inv.Amount.Valid {
		amount = inv.Amount.Decimal
	}
	d.Amount = s.Platform.CurrencySymbol + formatAmount(amount)
	return d
}

var emailNoticeTemplate = template.Must(template.New("email").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>{{.PlatformName}} Invoice Financing</h2>
    <p>Dear {{.BuyerName}},</p>
    <p>This is to inform you that invoice <strong>#{{.InvoiceNumber}}</strong> for the amount of <strong>{{.Amount}}</strong>
    has been submitted for financing on the {{.PlatformName}} platform by {{.SellerName}}.</p>
    <p>As per the terms of the invoice, the payment rights are being assigned to investors on our platform.
    <strong>If you have any objections to this assignment, please respond within {{.WindowHours}} hours.</strong></p>
    <p>If we do not hear from you within this timeframe, it will be considered as your acknowledgment and acceptance of this assignment.</p>
    <p>For any queries, please contact us at <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>
    <p>Regards,<br>{{.PlatformName}} Team</p>
  </div>
</body>
</html>`))

// EmailNotice renders the subject and HTML body of the buyer assignment notice.
func EmailNotice(inv *models.Invoice, sellerName string, s config.Settings) (string, string, error) {
	d := newNoticeData(inv, sellerName, s)
	var body bytes.Buffer
	if err := emailNoticeTemplate.Execute(&body, d); err != nil {
		return "", "", err
	}
	// the invoice number is seller input and must not break the header line
	subject := fmt.Sprintf("Important: Invoice %s Assignment Notification", strings.Join(strings.Fields(d.InvoiceNumber), " "))
	return subject, body.String(), nil
}

// ShortNotice is the whatsapp/sms variant of the assignment notice.
func ShortNotice(inv *models.Invoice, s config.Settings) string {
	d := newNoticeData(inv, "", s)
	return fmt.Sprintf("%s: Invoice #%s for %s has been submitted for financing. Payment rights are being assigned to investors. Any objections? Reply within %d hrs. No response will be considered as acceptance.",
		d.PlatformName, d.InvoiceNumber, d.Amount, d.WindowHours)
}

// PostalNotice is the letter text sent by registered post.
func PostalNotice(inv *models.Invoice, sellerName string, s config.Settings) string {
	d := newNoticeData(inv, sellerName, s)
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\n%s\n\n", d.BuyerName, inv.BuyerAddress)
	fmt.Fprintf(&b, "Subject: Notice of assignment of invoice #%s\n\n", d.InvoiceNumber)
	fmt.Fprintf(&b, "Invoice #%s for %s issued by %s has been submitted for financing on the %s platform, and its payment rights are being assigned to investors.\n\n",
		d.InvoiceNumber, d.Amount, d.SellerName, d.PlatformName)
	fmt.Fprintf(&b, "Objections must reach %s within %d hours of dispatch of this notice. Absence of a response will be treated as acceptance of the assignment.\n",
		d.SupportEmail, d.WindowHours)
	return b.String()
}

// formatAmount renders 125000.5 as 125,000.50.
func formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}
	var out []byte
	for i := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, whole[i])
	}
	return sign + string(out) + frac
}
