package controllers

import (
	"context"
	"net/http"

	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

// SessionCreator runs the checkout flow for a validated cart payload.
type SessionCreator interface {
	CreateSession(ctx context.Context, requestOrigin string, req *models.CheckoutRequest) (string, *services.ServiceError)
}

// CheckoutController handles HTTP requests for checkout session creation
type CheckoutController struct {
	service SessionCreator
}

// NewCheckoutController creates a new CheckoutController
func NewCheckoutController(service SessionCreator) *CheckoutController {
	return &CheckoutController{service: service}
}

// CreateSession creates a hosted checkout session for the submitted cart
// POST /checkout/session
func (cc *CheckoutController) CreateSession(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body."})
		return
	}

	url, svcErr := cc.service.CreateSession(c.Request.Context(), c.GetHeader("Origin"), &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
