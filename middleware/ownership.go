package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/tevani-core/models"
)

// InvoiceOwnerLookup returns the seller that owns an invoice. found is false
// when the invoice does not exist.
type InvoiceOwnerLookup func(ctx context.Context, invoiceID string) (sellerID string, found bool, err error)

// RequireInvoiceAccess admits the invoice's own seller plus any of the given
// roles. The invoice id is read from the named path parameter. Unknown
// invoices fall through so the handler answers 404.
func RequireInvoiceAccess(param string, lookup InvoiceOwnerLookup, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		if role != models.RoleSeller {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: insufficient permissions"})
			c.Abort()
			return
		}

		sellerID, found, err := lookup(c.Request.Context(), c.Param(param))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			c.Abort()
			return
		}
		if found && sellerID != c.GetString("userID") {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: invoice belongs to another seller"})
			c.Abort()
			return
		}

		c.Next()
	}
}
