package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/services"
)

type InvoiceHandler struct {
	lifecycle *services.InvoiceLifecycle
	consent   *services.ConsentManager
	audit     *services.AuditLog
	logger    *logrus.Logger
}

func NewInvoiceHandler(lifecycle *services.InvoiceLifecycle, consent *services.ConsentManager, audit *services.AuditLog, logger *logrus.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		lifecycle: lifecycle,
		consent:   consent,
		audit:     audit,
		logger:    logger,
	}
}

func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req services.CreateInvoiceInput
	if !bindJSON(c, &req) {
		return
	}

	// sellers only file for themselves
	switch {
	case roleFrom(c) == models.RoleSeller && req.SellerID != "" && req.SellerID != actorFrom(c):
		c.JSON(http.StatusForbidden, gin.H{"error": "seller_id must match the authenticated user"})
		return
	case roleFrom(c) == models.RoleSeller || req.SellerID == "":
		req.SellerID = actorFrom(c)
	}

	inv, err := h.lifecycle.CreateInvoice(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	inv, err := h.lifecycle.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) GetInvoiceHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.lifecycle.GetInvoice(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	history, err := h.audit.InvoiceHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice_id": id, "history": history})
}

func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	id := c.Param("id")
	if err := h.lifecycle.DeleteInvoice(c.Request.Context(), id, actorFrom(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted", "invoice_id": id})
}

// ValidateInvoice runs the automatic pipeline. When the invoice lands in
// pending_consent and a buyer email is on file the consent window is opened
// in the same request.
func (h *InvoiceHandler) ValidateInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	inv, err := h.lifecycle.ValidateInvoice(ctx, c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := gin.H{"invoice": inv}
	if inv.Status == models.InvoiceStatusPendingConsent && inv.BuyerEmail != "" {
		in := services.CreateConsentInput{InvoiceID: inv.ID, BuyerEmail: inv.BuyerEmail}
		if inv.BuyerPhone != "" {
			phone := inv.BuyerPhone
			in.BuyerPhone = &phone
		}
		record, err := h.consent.CreateConsent(ctx, in)
		if err != nil {
			// the invoice stays in pending_consent; consent can be started by hand
			h.logger.WithFields(logrus.Fields{"invoice_id": inv.ID}).Warn("automatic consent start failed: " + err.Error())
			resp["consent_error"] = err.Error()
		} else {
			resp["consent"] = record
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *InvoiceHandler) EvaluateInvoice(c *gin.Context) {
	var req services.CreateInvoiceInput
	if !bindJSON(c, &req) {
		return
	}

	c.JSON(http.StatusOK, h.lifecycle.Evaluate(req))
}
