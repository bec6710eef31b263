package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yourusername/tevani-core/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultConsentWindowHours = 48

const (
	SettingsCategoryLegalBot = "legalbot"
	SettingsCategoryPlatform = "platform"
)

var (
	ErrUnknownSettingsCategory = errors.New("unknown settings category")
	ErrInvalidSettingsPayload  = errors.New("invalid settings payload")
)

type LegalBotSettings struct {
	ConsentWindowHours                int  `json:"consent_window_hours"`
	EmailNotificationEnabled          bool `json:"email_notification_enabled"`
	WhatsAppNotificationEnabled       bool `json:"whatsapp_notification_enabled"`
	SMSNotificationEnabled            bool `json:"sms_notification_enabled"`
	RegisteredPostNotificationEnabled bool `json:"registered_post_notification_enabled"`
}

func (s LegalBotSettings) ConsentWindow() time.Duration {
	return time.Duration(s.ConsentWindowHours) * time.Hour
}

func (s LegalBotSettings) ChannelEnabled(t models.NotificationType) bool {
	switch t {
	case models.NotificationTypeEmail:
		return s.EmailNotificationEnabled
	case models.NotificationTypeWhatsApp:
		return s.WhatsAppNotificationEnabled
	case models.NotificationTypeSMS:
		return s.SMSNotificationEnabled
	case models.NotificationTypeRegisteredPost:
		return s.RegisteredPostNotificationEnabled
	}
	return false
}

type PlatformSettings struct {
	PlatformName   string `json:"platform_name"`
	SupportEmail   string `json:"support_email"`
	CurrencySymbol string `json:"currency_symbol"`
}

// Settings is the runtime-tunable configuration handed to the lifecycle and
// consent components.
type Settings struct {
	LegalBot LegalBotSettings `json:"legalbot"`
	Platform PlatformSettings `json:"platform"`
}

func DefaultSettings(cfg *Config) Settings {
	s := Settings{
		LegalBot: LegalBotSettings{
			ConsentWindowHours:       DefaultConsentWindowHours,
			EmailNotificationEnabled: true,
		},
		Platform: PlatformSettings{
			PlatformName:   "TEVANI",
			SupportEmail:   "support@tevani.com",
			CurrencySymbol: "₹",
		},
	}
	if cfg != nil {
		s.LegalBot.ConsentWindowHours = cfg.ConsentWindowHours
		s.LegalBot.EmailNotificationEnabled = cfg.EmailNotificationEnabled
		s.LegalBot.WhatsAppNotificationEnabled = cfg.WhatsAppEnabled
		s.LegalBot.SMSNotificationEnabled = cfg.SMSEnabled
		s.LegalBot.RegisteredPostNotificationEnabled = cfg.RegisteredPostEnabled
	}
	return s
}

// SettingsSource yields the settings in force for one operation.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// StaticSettings serves a fixed value.
type StaticSettings Settings

func (s StaticSettings) Current(ctx context.Context) (Settings, error) {
	return Settings(s), nil
}

type LegalBotSettingsUpdate struct {
	ConsentWindowHours                *int  `json:"consent_window_hours" validate:"omitempty,min=1,max=720"`
	EmailNotificationEnabled          *bool `json:"email_notification_enabled"`
	WhatsAppNotificationEnabled       *bool `json:"whatsapp_notification_enabled"`
	SMSNotificationEnabled            *bool `json:"sms_notification_enabled"`
	RegisteredPostNotificationEnabled *bool `json:"registered_post_notification_enabled"`
}

func (u LegalBotSettingsUpdate) apply(s *LegalBotSettings) {
	if u.ConsentWindowHours != nil {
		s.ConsentWindowHours = *u.ConsentWindowHours
	}
	if u.EmailNotificationEnabled != nil {
		s.EmailNotificationEnabled = *u.EmailNotificationEnabled
	}
	if u.WhatsAppNotificationEnabled != nil {
		s.WhatsAppNotificationEnabled = *u.WhatsAppNotificationEnabled
	}
	if u.SMSNotificationEnabled != nil {
		s.SMSNotificationEnabled = *u.SMSNotificationEnabled
	}
	if u.RegisteredPostNotificationEnabled != nil {
		s.RegisteredPostNotificationEnabled = *u.RegisteredPostNotificationEnabled
	}
}

type PlatformSettingsUpdate struct {
	PlatformName   *string `json:"platform_name" validate:"omitempty,min=1,max=64"`
	SupportEmail   *string `json:"support_email" validate:"omitempty,email"`
	CurrencySymbol *string `json:"currency_symbol" validate:"omitempty,min=1,max=4"`
}

func (u PlatformSettingsUpdate) apply(s *PlatformSettings) {
	if u.PlatformName != nil {
		s.PlatformName = *u.PlatformName
	}
	if u.SupportEmail != nil {
		s.SupportEmail = *u.SupportEmail
	}
	if u.CurrencySymbol != nil {
		s.CurrencySymbol = *u.CurrencySymbol
	}
}

// SettingsStore persists settings per category in system_settings. Missing
// categories fall back to the defaults it was built with.
type SettingsStore struct {
	db       *gorm.DB
	defaults Settings
	validate *validator.Validate
}

func NewSettingsStore(db *gorm.DB, defaults Settings) *SettingsStore {
	return &SettingsStore{
		db:       db,
		defaults: defaults,
		validate: validator.New(),
	}
}

func (s *SettingsStore) Current(ctx context.Context) (Settings, error) {
	return s.load(s.db.WithContext(ctx))
}

func (s *SettingsStore) load(db *gorm.DB) (Settings, error) {
	current := s.defaults

	var rows []models.SystemSetting
	if err := db.Find(&rows).Error; err != nil {
		return current, fmt.Errorf("failed to load settings: %w", err)
	}

	for _, row := range rows {
		var target interface{}
		switch row.Category {
		case SettingsCategoryLegalBot:
			target = &current.LegalBot
		case SettingsCategoryPlatform:
			target = &current.Platform
		default:
			continue
		}
		if err := json.Unmarshal(row.Payload, target); err != nil {
			return current, fmt.Errorf("failed to decode %s settings: %w", row.Category, err)
		}
	}
	return current, nil
}

func (s *SettingsStore) defaultRow(category string) (models.SystemSetting, error) {
	var payload interface{} = s.defaults.Platform
	if category == SettingsCategoryLegalBot {
		payload = s.defaults.LegalBot
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.SystemSetting{}, err
	}
	return models.SystemSetting{Category: category, Payload: datatypes.JSON(raw), UpdatedAt: time.Now().UTC()}, nil
}

// Initialize writes the default document for every category that has none.
func (s *SettingsStore) Initialize(ctx context.Context) error {
	for _, category := range []string{SettingsCategoryLegalBot, SettingsCategoryPlatform} {
		row, err := s.defaultRow(category)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to initialize %s settings: %w", category, err)
		}
	}
	return nil
}

// Update decodes a category-specific update request, rejecting fields outside
// the category's allow-list, and merges it into the stored document. The
// read and write share one transaction holding the category row lock, so
// concurrent updates to different fields both survive.
func (s *SettingsStore) Update(ctx context.Context, category string, body []byte, actor string) (Settings, error) {
	var merge func(*Settings) interface{}
	switch category {
	case SettingsCategoryLegalBot:
		var upd LegalBotSettingsUpdate
		if err := s.decodeUpdate(body, &upd); err != nil {
			return Settings{}, err
		}
		merge = func(cur *Settings) interface{} {
			upd.apply(&cur.LegalBot)
			return cur.LegalBot
		}
	case SettingsCategoryPlatform:
		var upd PlatformSettingsUpdate
		if err := s.decodeUpdate(body, &upd); err != nil {
			return Settings{}, err
		}
		merge = func(cur *Settings) interface{} {
			upd.apply(&cur.Platform)
			return cur.Platform
		}
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownSettingsCategory, category)
	}

	var current Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed, err := s.defaultRow(category)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		var locked models.SystemSetting
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "category = ?", category).Error; err != nil {
			return err
		}

		current, err = s.load(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(merge(&current))
		if err != nil {
			return err
		}
		return tx.Model(&models.SystemSetting{}).
			Where("category = ?", category).
			Updates(map[string]interface{}{
				"payload":    datatypes.JSON(raw),
				"updated_at": time.Now().UTC(),
				"updated_by": actor,
			}).Error
	})
	if err != nil {
		return current, fmt.Errorf("failed to save %s settings: %w", category, err)
	}
	return current, nil
}

func (s *SettingsStore) decodeUpdate(body []byte, dest interface{}) error {
	if err := decodeStrict(body, dest); err != nil {
		return err
	}
	return s.validate.Struct(dest)
}

func decodeStrict(body []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettingsPayload, err)
	}
	return nil
}
