package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/middleware"
	"checkout-service/models"
	"checkout-service/repository"
	"checkout-service/routes"
	"checkout-service/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Config load failed", zap.Error(err))
	}

	db, err := database.Connect(cfg.DSN(),
		&models.Product{},
		&models.StockReservation{},
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.EnsureLedgerFunctions(db); err != nil {
		logger.Fatal("Failed to install stock ledger functions", zap.Error(err))
	}

	// --- Service wiring ---
	stripeSvc := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookKey)

	productRepo := repository.NewGormProductRepository(db)
	reservationRepo := repository.NewGormReservationRepository(db)
	orderRepo := repository.NewGormOrderRepository(db)
	ledger := repository.NewPostgresStockLedger(db)

	checkoutSvc := services.NewCheckoutService(
		productRepo, ledger, reservationRepo, stripeSvc,
		cfg.Currency, cfg.AllowedOrigins, logger,
	)
	webhookSvc := services.NewWebhookService(
		reservationRepo, orderRepo, productRepo, ledger, stripeSvc, logger,
	)

	checkoutController := controllers.NewCheckoutController(checkoutSvc)
	webhookController := controllers.NewWebhookController(stripeSvc, webhookSvc, logger)

	// --- HTTP router ---
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	corsConfig := cors.Config{
		AllowMethods: []string{"POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Apikey", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	routes.RegisterRoutes(r, checkoutController, webhookController)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Checkout Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Checkout Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Checkout Service stopped gracefully")
}
