package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	trailSheet         = "Consent Trail"
	notificationsSheet = "Notifications"
)

// ExportConsentAudit writes a consent record's event trail and notifications
// as an xlsx workbook.
func (m *ConsentManager) ExportConsentAudit(ctx context.Context, consentID string, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "ConsentManager.ExportConsentAudit")
	defer span.End()

	record, err := m.GetConsent(ctx, consentID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", trailSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(notificationsSheet); err != nil {
		return err
	}

	summary := [][]interface{}{
		{"Consent ID", record.ID},
		{"Invoice ID", record.InvoiceID},
		{"Buyer Email", record.BuyerEmail},
		{"Status", string(record.Status)},
		{"Window Start", formatTime(&record.ConsentWindowStart)},
		{"Window End", formatTime(&record.ConsentWindowEnd)},
		{"Resolved At", formatTime(record.ResolvedAt)},
		{"Ledger Entry", derefString(record.LedgerEntry)},
	}
	row := 1
	for _, line := range summary {
		if err := setRow(f, trailSheet, row, line); err != nil {
			return err
		}
		row++
	}

	row++
	if err := setRow(f, trailSheet, row, []interface{}{"Timestamp", "Event", "Details", "IP Address", "User Agent"}); err != nil {
		return err
	}
	for _, entry := range record.Logs {
		row++
		details := ""
		if len(entry.Details) > 0 {
			raw, err := entry.Details.MarshalJSON()
			if err != nil {
				return err
			}
			details = string(raw)
		}
		line := []interface{}{
			formatTime(&entry.Timestamp),
			string(entry.Event),
			details,
			derefString(entry.IPAddress),
			derefString(entry.UserAgent),
		}
		if err := setRow(f, trailSheet, row, line); err != nil {
			return err
		}
	}

	if err := setRow(f, notificationsSheet, 1, []interface{}{"ID", "Type", "Recipient", "Status", "Message ID", "Sent At", "Delivered At", "Read At"}); err != nil {
		return err
	}
	for i, n := range record.Notifications {
		line := []interface{}{
			n.ID,
			string(n.Type),
			n.Recipient,
			string(n.Status),
			derefString(n.MessageID),
			formatTime(n.SentAt),
			formatTime(n.DeliveredAt),
			formatTime(n.ReadAt),
		}
		if err := setRow(f, notificationsSheet, i+2, line); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
