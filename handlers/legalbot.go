package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type LegalBotHandler struct {
	consent *services.ConsentManager
	logger  *logrus.Logger
}

func NewLegalBotHandler(consent *services.ConsentManager, logger *logrus.Logger) *LegalBotHandler {
	return &LegalBotHandler{
		consent: consent,
		logger:  logger,
	}
}

type UpdateConsentRequest struct {
	Status  models.ConsentStatus   `json:"status" binding:"required,oneof=acknowledged disputed expired"`
	Details map[string]interface{} `json:"details"`
}

type LogEventRequest struct {
	Event   models.ConsentEvent    `json:"event" binding:"required"`
	Details map[string]interface{} `json:"details"`
}

type UpdateNotificationRequest struct {
	Status  models.NotificationStatus `json:"status" binding:"required,oneof=delivered read"`
	Details map[string]interface{}    `json:"details"`
}

func (h *LegalBotHandler) CreateConsent(c *gin.Context) {
	var req services.CreateConsentInput
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.consent.CreateConsent(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *LegalBotHandler) GetConsent(c *gin.Context) {
	record, err := h.consent.GetConsent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *LegalBotHandler) GetConsentByInvoice(c *gin.Context) {
	record, err := h.consent.GetConsentByInvoice(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// UpdateConsent records the buyer's answer, or closes an elapsed window as
// expired.
func (h *LegalBotHandler) UpdateConsent(c *gin.Context) {
	var req UpdateConsentRequest
	if !bindJSON(c, &req) {
		return
	}

	var (
		record *models.ConsentRecord
		err    error
	)
	ctx := c.Request.Context()
	if req.Status == models.ConsentStatusExpired {
		record, err = h.consent.ExpireConsent(ctx, c.Param("id"), requestMeta(c), actorFrom(c))
	} else {
		record, err = h.consent.ResolveConsent(ctx, c.Param("id"), req.Status, req.Details, requestMeta(c), actorFrom(c))
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *LegalBotHandler) LogEvent(c *gin.Context) {
	var req LogEventRequest
	if !bindJSON(c, &req) {
		return
	}

	entry, err := h.consent.LogEvent(c.Request.Context(), c.Param("id"), req.Event, req.Details, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *LegalBotHandler) SendNotification(c *gin.Context) {
	var req services.SendNotificationInput
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.consent.SendNotification(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, n)
}

// UpdateNotification is the delivery callback used by the channel providers.
func (h *LegalBotHandler) UpdateNotification(c *gin.Context) {
	var req UpdateNotificationRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.consent.UpdateNotificationStatus(c.Request.Context(), c.Param("id"), req.Status, req.Details)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *LegalBotHandler) CheckPassiveConsent(c *gin.Context) {
	ids, err := h.consent.SweepPassiveConsent(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": len(ids), "consent_ids": ids})
}

func (h *LegalBotHandler) ExportConsentAudit(c *gin.Context) {
	id := c.Param("id")
	var buf bytes.Buffer
	if err := h.consent.ExportConsentAudit(c.Request.Context(), id, &buf); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="consent-%s-audit.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
