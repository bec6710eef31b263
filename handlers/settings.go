package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/utils"
)

type SettingsHandler struct {
	store  *config.SettingsStore
	logger *logrus.Logger
}

func NewSettingsHandler(store *config.SettingsStore, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger,
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	current, err := h.store.Current(c.Request.Context())
	if err != nil {
		config.LogError(h.logger, "handlers", "GetSettings", "load settings", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}

	switch category := c.Param("category"); category {
	case config.SettingsCategoryLegalBot:
		c.JSON(http.StatusOK, current.LegalBot)
	case config.SettingsCategoryPlatform:
		c.JSON(http.StatusOK, current.Platform)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown settings category: " + category})
	}
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	category := c.Param("category")
	updated, err := h.store.Update(c.Request.Context(), category, body, actorFrom(c))
	if err != nil {
		if errors.Is(err, config.ErrUnknownSettingsCategory) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if fields := utils.ProcessValidationErrors(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fields})
			return
		}
		if errors.Is(err, config.ErrInvalidSettingsPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		config.LogError(h.logger, "handlers", "UpdateSettings", "save settings", category, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	h.logger.WithFields(logrus.Fields{"category": category, "updated_by": actorFrom(c)}).Info("settings updated")
	if category == config.SettingsCategoryLegalBot {
		c.JSON(http.StatusOK, updated.LegalBot)
		return
	}
	c.JSON(http.StatusOK, updated.Platform)
}
