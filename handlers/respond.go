package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/config"
	"github.com/yourusername/tevani-core/services"
	"github.com/yourusername/tevani-core/utils"
)

// respondError maps service errors onto status codes. Anything unrecognised
// is logged and hidden behind a 500.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NotFound"})
	case errors.Is(err, services.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "StateConflict"})
	case errors.Is(err, services.ErrValidationInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "ValidationError"})
	default:
		config.LogError(logger, "handlers", c.HandlerName(), c.Request.Method+" "+c.FullPath(), c.Params, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// bindJSON binds the request body and writes the 400 itself on failure.
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		if fields := utils.ProcessValidationErrors(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fields})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func actorFrom(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return "anonymous"
}

func roleFrom(c *gin.Context) string {
	role, _ := c.Get("role")
	s, _ := role.(string)
	return s
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
