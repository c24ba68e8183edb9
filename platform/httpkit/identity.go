// Package httpkit provides HTTP utilities including account scoping.
package httpkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AccountHeader carries the account when token auth is disabled.
const AccountHeader = "X-Account-ID"

// AccountID returns the account the request is scoped to.
func AccountID(c *gin.Context) (string, bool) {
	value, ok := c.Get(ContextAccountIDKey)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// MustAccountID returns the scoped account or aborts with 401.
func MustAccountID(c *gin.Context) (string, bool) {
	id, ok := AccountID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "account scope required"})
		return "", false
	}
	return id, true
}

func accountFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(AccountHeader))
}
