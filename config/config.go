package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourusername/tevani-core/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port             string
	DatabaseURL      string
	JWTSecret        string
	JWTRefreshSecret string
	LogLevel         string

	RedisAddress string

	PubSubProjectID         string
	PubSubNotificationTopic string
	PubSubCredentialsJSON   string

	EmailHost           string
	EmailPort           int
	EmailUsername       string
	EmailPassword       string
	EmailSendingEnabled bool

	ConsentWindowHours       int
	EmailNotificationEnabled bool
	WhatsAppEnabled          bool
	SMSEnabled               bool
	RegisteredPostEnabled    bool
	PassiveSweepInterval     time.Duration
	DispatchTimeout          time.Duration
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:             os.Getenv("PORT"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),

		PubSubProjectID:         os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubNotificationTopic: getEnvOrDefault("PUBSUB_NOTIFICATION_TOPIC", "legalbot-notifications"),
		PubSubCredentialsJSON:   os.Getenv("PUBSUB_CREDENTIALS_JSON"),

		EmailHost:           getEnvOrDefault("EMAIL_HOST", "smtp.gmail.com"),
		EmailPort:           getEnvAsInt("EMAIL_PORT", 587),
		EmailUsername:       os.Getenv("EMAIL_USERNAME"),
		EmailPassword:       os.Getenv("EMAIL_PASSWORD"),
		EmailSendingEnabled: getEnvAsBool("EMAIL_SENDING_ENABLED", true),

		ConsentWindowHours:       getEnvAsInt("CONSENT_WINDOW_HOURS", DefaultConsentWindowHours),
		EmailNotificationEnabled: getEnvAsBool("EMAIL_NOTIFICATION_ENABLED", true),
		WhatsAppEnabled:          getEnvAsBool("WHATSAPP_NOTIFICATION_ENABLED", false),
		SMSEnabled:               getEnvAsBool("SMS_NOTIFICATION_ENABLED", false),
		RegisteredPostEnabled:    getEnvAsBool("REGISTERED_POST_NOTIFICATION_ENABLED", false),
		PassiveSweepInterval:     getEnvAsDuration("PASSIVE_SWEEP_INTERVAL", 15*time.Minute),
		DispatchTimeout:          getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ConsentWindowHours <= 0 {
		return nil, fmt.Errorf("CONSENT_WINDOW_HOURS must be positive, got %d", cfg.ConsentWindowHours)
	}

	return cfg, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Invoice{},
		&models.InvoiceStatusAudit{},
		&models.Investment{},
		&models.ConsentRecord{},
		&models.Notification{},
		&models.ConsentLog{},
		&models.SystemSetting{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
