package controllers

import (
	"context"
	"io"
	"net/http"

	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// WebhookProcessor reconciles a verified payment-provider event.
type WebhookProcessor interface {
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// WebhookController handles signed Stripe webhook deliveries
type WebhookController struct {
	verifier  services.WebhookVerifier
	processor WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookController creates a new WebhookController
func NewWebhookController(verifier services.WebhookVerifier, processor WebhookProcessor, logger *zap.Logger) *WebhookController {
	return &WebhookController{verifier: verifier, processor: processor, logger: logger}
}

// HandleEvent verifies the signature over the raw body and processes the
// event. A processing failure returns 5xx so Stripe redelivers later.
// POST /stripe/webhook
func (wc *WebhookController) HandleEvent(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body."})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing Stripe signature header."})
		return
	}

	event, err := wc.verifier.VerifyEvent(payload, sigHeader)
	if err != nil {
		wc.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook signature."})
		return
	}

	if err := wc.processor.ProcessEvent(c.Request.Context(), event); err != nil {
		wc.logger.Error("Webhook event processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook event."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
