package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/models"
	"github.com/yourusername/tevani-core/services"
)

// AdminHandler serves the administrator-only invoice operations.
type AdminHandler struct {
	lifecycle *services.InvoiceLifecycle
	logger    *logrus.Logger
}

func NewAdminHandler(lifecycle *services.InvoiceLifecycle, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

type ManualReviewRequest struct {
	ValidationResults []models.CheckOutcome `json:"validation_results" binding:"required,min=1,dive"`
}

type RejectInvoiceRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type SettleInvoiceRequest struct {
	Status models.InvoiceStatus `json:"status" binding:"required,oneof=paid defaulted"`
}

func (h *AdminHandler) ReviewInvoice(c *gin.Context) {
	var req ManualReviewRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.lifecycle.ManualReview(c.Request.Context(), c.Param("id"), req.ValidationResults, actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *AdminHandler) RejectInvoice(c *gin.Context) {
	var req RejectInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.lifecycle.RejectInvoice(c.Request.Context(), c.Param("id"), req.Reason, actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *AdminHandler) FundInvoice(c *gin.Context) {
	var req services.FundingInput
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.lifecycle.RecordFunding(c.Request.Context(), c.Param("id"), req, actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *AdminHandler) SettleInvoice(c *gin.Context) {
	var req SettleInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.lifecycle.Settle(c.Request.Context(), c.Param("id"), req.Status, actorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *AdminHandler) ValidationStats(c *gin.Context) {
	stats, err := h.lifecycle.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
