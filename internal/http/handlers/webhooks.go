package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"leaguehub.com/app/internal/http/middleware"
	"leaguehub.com/app/internal/modules/payments"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Logger     *slog.Logger
	Processor  payments.Processor
	WebhookSvc *payments.WebhookService
}

func NewWebhookHandler(logger *slog.Logger, p payments.Processor, svc *payments.WebhookService) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Processor: p, WebhookSvc: svc}
}

// POST /webhooks/:provider
// The signature is checked by the processor adapter before anything is stored.
func (h *WebhookHandler) Handle(c *gin.Context) {
	if c.Param("provider") != h.Processor.Name() {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ev, err := h.Processor.VerifyAndParseWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.WarnContext(c.Request.Context(), "webhook rejected",
			"provider", h.Processor.Name(), "request_id", middleware.GetRequestID(c), "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid signature or payload"})
		return
	}

	outcome, err := h.WebhookSvc.Handle(c.Request.Context(), h.Processor.Name(), ev, body)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhook) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid payload"})
			return
		}
		// 500 so the processor redelivers
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "outcome": outcome})
}
