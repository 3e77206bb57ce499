package routes

import (
	"net/http"
	"time"

	"checkout-service/controllers"
	"checkout-service/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all checkout service routes
func RegisterRoutes(r *gin.Engine, checkout *controllers.CheckoutController, webhook *controllers.WebhookController) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed."})
	})

	// Session creation is rate limited per IP; webhook deliveries come from
	// Stripe's infrastructure and are authenticated by signature instead.
	checkoutLimiter := middleware.RateLimitMiddleware(rate.Every(time.Minute/100), 50)
	r.POST("/checkout/session", checkoutLimiter, checkout.CreateSession)

	r.POST("/stripe/webhook", webhook.HandleEvent)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
}
