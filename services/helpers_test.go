package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockTransport struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, msg utils.OutboundMessage) (string, error)
	Sent     []utils.OutboundMessage
}

func (m *MockTransport) Send(ctx context.Context, msg utils.OutboundMessage) (string, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return fmt.Sprintf("%s_%s", msg.Type, msg.NotificationID), nil
}

func (m *MockTransport) sent() []utils.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]utils.OutboundMessage(nil), m.Sent...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db        *gorm.DB
	settings  *config.SettingsStore
	audit     *AuditLog
	lifecycle *InvoiceLifecycle
	consent   *ConsentManager
	transport *MockTransport
	clock     *testClock
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	log := quietLogger()
	clock := &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	settings := config.NewSettingsStore(db, config.DefaultSettings(nil))
	require.NoError(t, settings.Initialize(context.Background()))

	audit := NewAuditLog(db, log)
	audit.now = clock.Now
	lifecycle := NewInvoiceLifecycle(db, audit, nil, log)
	lifecycle.now = clock.Now
	transport := &MockTransport{}
	consent := NewConsentManager(db, settings, lifecycle, audit, transport, nil, log, time.Second)
	consent.now = clock.Now

	return &testEnv{
		db:        db,
		settings:  settings,
		audit:     audit,
		lifecycle: lifecycle,
		consent:   consent,
		transport: transport,
		clock:     clock,
	}
}

// cleanInput builds an invoice that passes every check except, for amounts
// that are multiples of 1000, the round amount heuristic.
func cleanInput(amount string, quantity int64) CreateInvoiceInput {
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	due := issued.AddDate(0, 0, 30)
	amt := decimal.RequireFromString(amount)
	qty := decimal.NewFromInt(quantity)
	return CreateInvoiceInput{
		SellerID:      "seller-1",
		InvoiceNumber: "INV-2025/001",
		Amount:        decimal.NewNullDecimal(amt),
		InvoiceDate:   &issued,
		DueDate:       &due,
		BuyerName:     "Acme Traders",
		BuyerEmail:    "accounts@acme.example",
		BuyerGSTIN:    "27AAPFU0939F1ZV",
		LineItems: []models.LineItem{{
			Description: "Steel rods",
			Quantity:    qty,
			UnitPrice:   amt.Div(qty),
			Amount:      amt,
		}},
		SupportingDocuments: []string{"po-7781.pdf"},
		FileHash:            "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}
}

func (e *testEnv) createInvoice(t *testing.T, in CreateInvoiceInput) *models.Invoice {
	t.Helper()
	inv, err := e.lifecycle.CreateInvoice(context.Background(), in, "seller-1")
	require.NoError(t, err)
	// keeps audit rows strictly ordered by time
	e.clock.Advance(time.Second)
	return inv
}

// pendingConsentInvoice creates and validates a clean invoice.
func (e *testEnv) pendingConsentInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	inv := e.createInvoice(t, cleanInput("125500", 251))
	inv, err := e.lifecycle.ValidateInvoice(context.Background(), inv.ID, "system")
	require.NoError(t, err)
	require.Equal(t, models.InvoiceStatusPendingConsent, inv.Status)
	return inv
}

func (e *testEnv) openConsent(t *testing.T, inv *models.Invoice) *models.ConsentRecord {
	t.Helper()
	record, err := e.consent.CreateConsent(context.Background(), CreateConsentInput{
		InvoiceID:  inv.ID,
		BuyerEmail: inv.BuyerEmail,
	})
	require.NoError(t, err)
	return record
}

func (e *testEnv) reloadInvoice(t *testing.T, id string) *models.Invoice {
	t.Helper()
	inv, err := e.lifecycle.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func eventsOf(logs []models.ConsentLog) []models.ConsentEvent {
	out := make([]models.ConsentEvent, len(logs))
	for i, l := range logs {
		out[i] = l.Event
	}
	return out
}
