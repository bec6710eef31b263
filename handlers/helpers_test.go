package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/middleware"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/services"
	"github.com/yourusername/tevani-core/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockTransport struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, msg utils.OutboundMessage) (string, error)
	calls    int
}

func (m *MockTransport) Send(ctx context.Context, msg utils.OutboundMessage) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return "msg_" + msg.NotificationID, nil
}

func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
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

type fixture struct {
	db        *gorm.DB
	transport *MockTransport
	router    *gin.Engine
	role      string
	user      string
}

// newFixture wires the real services over sqlite behind a router whose
// caller identity is set per fixture.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := config.NewSettingsStore(db, config.DefaultSettings(nil))
	require.NoError(t, store.Initialize(context.Background()))

	audit := services.NewAuditLog(db, log)
	lifecycle := services.NewInvoiceLifecycle(db, audit, nil, log)
	transport := &MockTransport{}
	consent := services.NewConsentManager(db, store, lifecycle, audit, transport, nil, log, 0)

	f := &fixture{db: db, transport: transport, role: models.RoleAdmin, user: "user-1"}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", f.user)
		c.Set("role", f.role)
		c.Next()
	})

	invoices := NewInvoiceHandler(lifecycle, consent, audit, log)
	readInvoice := middleware.RequireInvoiceAccess("id", lifecycle.InvoiceSeller, models.RoleAdmin, models.RoleInvestor)
	writeInvoice := middleware.RequireInvoiceAccess("id", lifecycle.InvoiceSeller, models.RoleAdmin)
	router.POST("/invoices", middleware.RequireRole(models.RoleAdmin, models.RoleSeller), invoices.CreateInvoice)
	router.POST("/invoices/evaluate", invoices.EvaluateInvoice)
	router.GET("/invoices/:id", readInvoice, invoices.GetInvoice)
	router.GET("/invoices/:id/history", readInvoice, invoices.GetInvoiceHistory)
	router.DELETE("/invoices/:id", writeInvoice, invoices.DeleteInvoice)
	router.POST("/invoices/:id/validate", writeInvoice, invoices.ValidateInvoice)

	legalbot := NewLegalBotHandler(consent, log)
	router.POST("/legalbot/consent", legalbot.CreateConsent)
	router.GET("/legalbot/consent/:id", legalbot.GetConsent)
	router.GET("/legalbot/consent/invoice/:invoice_id",
		middleware.RequireInvoiceAccess("invoice_id", lifecycle.InvoiceSeller, models.RoleAdmin, models.RoleInvestor),
		legalbot.GetConsentByInvoice)
	router.PUT("/legalbot/consent/:id", legalbot.UpdateConsent)
	router.POST("/legalbot/consent/:id/log", legalbot.LogEvent)
	router.GET("/legalbot/consent/:id/audit.xlsx", legalbot.ExportConsentAudit)
	router.POST("/legalbot/consent/check-passive", legalbot.CheckPassiveConsent)
	router.POST("/legalbot/notification", legalbot.SendNotification)
	router.PUT("/legalbot/notification/:id", legalbot.UpdateNotification)

	admin := NewAdminHandler(lifecycle, log)
	router.POST("/admin/invoices/:id/review", admin.ReviewInvoice)
	router.POST("/admin/invoices/:id/reject", admin.RejectInvoice)
	router.POST("/admin/invoices/:id/fund", admin.FundInvoice)
	router.POST("/admin/invoices/:id/settle", admin.SettleInvoice)
	router.GET("/admin/validation/stats", admin.ValidationStats)

	settings := NewSettingsHandler(store, log)
	router.GET("/admin/settings/:category", settings.GetSettings)
	router.PUT("/admin/settings/:category", settings.UpdateSettings)

	f.router = router
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

const cleanInvoiceJSON = `{
	"seller_id": "seller-1",
	"invoice_number": "INV-2025/001",
	"amount": 125500,
	"invoice_date": "2025-03-01T00:00:00Z",
	"due_date": "2025-03-31T00:00:00Z",
	"buyer_name": "Acme Traders",
	"buyer_email": "accounts@acme.example",
	"buyer_gstin": "27AAPFU0939F1ZV",
	"line_items": [{"description": "Steel rods", "quantity": 251, "unit_price": 500, "amount": 125500}],
	"supporting_documents": ["po-7781.pdf"],
	"hash": "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
}`

func (f *fixture) createInvoice(t *testing.T) models.Invoice {
	t.Helper()
	w := f.do(http.MethodPost, "/invoices", cleanInvoiceJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inv models.Invoice
	decode(t, w, &inv)
	return inv
}

type validateResponse struct {
	Invoice      models.Invoice        `json:"invoice"`
	Consent      *models.ConsentRecord `json:"consent"`
	ConsentError string                `json:"consent_error"`
}

func (f *fixture) reload(t *testing.T, id string) models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv
}

// as switches the caller identity until the returned func is called.
func (f *fixture) as(role, user string) func() {
	prevRole, prevUser := f.role, f.user
	f.role, f.user = role, user
	return func() { f.role, f.user = prevRole, prevUser }
}

// pendingConsent creates and validates an invoice, which also opens its
// consent window.
func (f *fixture) pendingConsent(t *testing.T) validateResponse {
	t.Helper()
	inv := f.createInvoice(t)
	w := f.do(http.MethodPost, "/invoices/"+inv.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp validateResponse
	decode(t, w, &resp)
	require.NotNil(t, resp.Consent, resp.ConsentError)
	return resp
}
