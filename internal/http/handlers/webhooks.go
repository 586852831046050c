package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/payments"
	"derukkies.com/app/internal/shared/apperr"
)

// Webhook payloads must stay small; providers send events, not uploads.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Registry *payments.WebhookRegistry
}

func NewWebhookHandler(reg *payments.WebhookRegistry) *WebhookHandler {
	return &WebhookHandler{Registry: reg}
}

// Receive reads the raw body before any parsing so signatures are verified
// over the exact bytes the provider sent.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("unreadable_body", "Could not read request body."))
		return
	}
	if err := h.Registry.Dispatch(c.Request.Context(), provider, c.Request.Header, body); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
