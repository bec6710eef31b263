package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/handlers"
	"github.com/yourusername/tevani-core/middleware"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/services"
	"github.com/yourusername/tevani-core/utils"
	"gorm.io/gorm"
)

type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *gorm.DB
	settings  *config.SettingsStore
	audit     *services.AuditLog
	lifecycle *services.InvoiceLifecycle
	consent   *services.ConsentManager
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := config.NewSettingsStore(db, config.DefaultSettings(cfg))
	if err := settings.Initialize(ctx); err != nil {
		logger.Fatalf("Failed to initialize settings: %v", err)
	}

	rdb, lockClient, err := config.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		config.LogError(logger, "main", "main", "connect redis", cfg.RedisAddress, err)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	locker := utils.NewLocker(lockClient, logger)

	transport, closeTransport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to set up notification transport: %v", err)
	}
	defer closeTransport()

	audit := services.NewAuditLog(db, logger)
	lifecycle := services.NewInvoiceLifecycle(db, audit, locker, logger)
	consent := services.NewConsentManager(db, settings, lifecycle, audit, transport, locker, logger, cfg.DispatchTimeout)

	sweeper := services.NewPassiveConsentSweeper(consent, logger, cfg.PassiveSweepInterval)
	go sweeper.Run(ctx)

	router := setupRouter(&app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		settings:  settings,
		audit:     audit,
		lifecycle: lifecycle,
		consent:   consent,
	})

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			config.LogError(logger, "main", "main", "shutdown server", nil, err)
		}
	}()

	logger.WithField("port", port).Info("Starting TEVANI core API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// buildTransport routes email over SMTP and the other channels over Pub/Sub.
// A channel without credentials falls back to logging the message.
func buildTransport(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*utils.TransportRouter, func(), error) {
	fallback := utils.LogTransport{Logger: logger}
	router := utils.NewTransportRouter()
	cleanup := func() {}

	if cfg.EmailSendingEnabled && cfg.EmailUsername != "" && cfg.EmailPassword != "" {
		router.Register(models.NotificationTypeEmail, utils.NewSMTPTransport(cfg.EmailHost, cfg.EmailPort, cfg.EmailUsername, cfg.EmailPassword))
	} else {
		logger.Warn("email credentials not configured; email notifications will only be logged")
		router.Register(models.NotificationTypeEmail, fallback)
	}

	var outbound utils.NotificationTransport = fallback
	if cfg.PubSubProjectID != "" {
		client, err := utils.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.PubSubCredentialsJSON)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { client.Close() }
		outbound = utils.NewPubSubTransport(client, cfg.PubSubNotificationTopic)
	}
	router.
		Register(models.NotificationTypeWhatsApp, outbound).
		Register(models.NotificationTypeSMS, outbound).
		Register(models.NotificationTypeRegisteredPost, outbound)

	return router, cleanup, nil
}

func setupRouter(a *app) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(a.logger))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tevani-core-api",
		})
	})

	authHandler := handlers.NewAuthHandler(a.db, a.cfg)
	router.POST("/api/v1/auth/refresh", authHandler.Refresh)

	// API routes
	api := router.Group("/api/v1", middleware.JwtAuthMiddleware(a.cfg))
	{
		invoiceHandler := handlers.NewInvoiceHandler(a.lifecycle, a.consent, a.audit, a.logger)
		readInvoice := middleware.RequireInvoiceAccess("id", a.lifecycle.InvoiceSeller, models.RoleAdmin, models.RoleInvestor)
		writeInvoice := middleware.RequireInvoiceAccess("id", a.lifecycle.InvoiceSeller, models.RoleAdmin)
		api.POST("/invoices", middleware.RequireRole(models.RoleAdmin, models.RoleSeller), invoiceHandler.CreateInvoice)
		api.POST("/invoices/evaluate", invoiceHandler.EvaluateInvoice)
		api.GET("/invoices/:id", readInvoice, invoiceHandler.GetInvoice)
		api.GET("/invoices/:id/history", readInvoice, invoiceHandler.GetInvoiceHistory)
		api.DELETE("/invoices/:id", writeInvoice, invoiceHandler.DeleteInvoice)
		api.POST("/invoices/:id/validate", writeInvoice, invoiceHandler.ValidateInvoice)

		legalBotHandler := handlers.NewLegalBotHandler(a.consent, a.logger)
		legalbot := api.Group("/legalbot")
		legalbot.POST("/consent", legalBotHandler.CreateConsent)
		legalbot.GET("/consent/:id", legalBotHandler.GetConsent)
		legalbot.GET("/consent/invoice/:invoice_id",
			middleware.RequireInvoiceAccess("invoice_id", a.lifecycle.InvoiceSeller, models.RoleAdmin, models.RoleInvestor),
			legalBotHandler.GetConsentByInvoice)
		legalbot.PUT("/consent/:id", legalBotHandler.UpdateConsent)
		legalbot.POST("/consent/:id/log", legalBotHandler.LogEvent)
		legalbot.GET("/consent/:id/audit.xlsx", legalBotHandler.ExportConsentAudit)
		legalbot.POST("/notification", legalBotHandler.SendNotification)
		legalbot.PUT("/notification/:id", legalBotHandler.UpdateNotification)
		legalbot.POST("/consent/check-passive", middleware.RequireRole(models.RoleAdmin), legalBotHandler.CheckPassiveConsent)

		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		adminHandler := handlers.NewAdminHandler(a.lifecycle, a.logger)
		admin.POST("/invoices/:id/review", adminHandler.ReviewInvoice)
		admin.POST("/invoices/:id/reject", adminHandler.RejectInvoice)
		admin.POST("/invoices/:id/fund", adminHandler.FundInvoice)
		admin.POST("/invoices/:id/settle", adminHandler.SettleInvoice)
		admin.GET("/validation/stats", adminHandler.ValidationStats)

		settingsHandler := handlers.NewSettingsHandler(a.settings, a.logger)
		admin.GET("/settings/:category", settingsHandler.GetSettings)
		admin.PUT("/settings/:category", settingsHandler.UpdateSettings)
	}

	return router
}
