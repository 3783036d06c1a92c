package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/wikisolucoes/ledger-core/docs"
	"github.com/wikisolucoes/ledger-core/internal/config"
	"github.com/wikisolucoes/ledger-core/internal/database"
	"github.com/wikisolucoes/ledger-core/internal/gateway"
	"github.com/wikisolucoes/ledger-core/internal/handlers"
	mW "github.com/wikisolucoes/ledger-core/internal/middleware"
	"github.com/wikisolucoes/ledger-core/internal/services"
)

// @title Marketplace Ledger API
// @version 1.0
// @description Tenant-scoped ledger and payment gateway reconciliation service
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	config.Init()

	docs.SwaggerInfo.Title = "Marketplace Ledger API"
	docs.SwaggerInfo.Description = "Tenant-scoped ledger and payment gateway reconciliation service"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gatewayClient := gateway.NewHTTPClient(gateway.ConfigFromViper())

	ledgerService := services.NewLedgerService(db, redisClient, gatewayClient)
	reconService := services.NewReconciliationService(db, redisClient, gatewayClient)
	authService := services.NewAuthService(db)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService, reconService)
	webhookHandler := handlers.NewWebhookHandler(ledgerService)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/token", authService.Token)
		// Webhooks authenticate with their own HMAC signature, not a JWT.
		r.Post("/webhooks/gateway", webhookHandler.Receive)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/ledger/cash-in", ledgerHandler.CashIn)
			r.Post("/ledger/cash-out", ledgerHandler.CashOut)
			r.Get("/ledger/{tenantId}/balance", ledgerHandler.Balance)
			r.Get("/ledger/{tenantId}/entries", ledgerHandler.Entries)
			r.Get("/ledger/operations/{correlationId}", ledgerHandler.Operation)

			r.Post("/reconciliation/{tenantId}", ledgerHandler.Reconcile)
		})
	})

	// Background reconciliation sweep across all tenants.
	reconCtx, reconCancel := context.WithCancel(context.Background())
	defer reconCancel()
	go runReconciliationLoop(reconCtx, reconService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	reconCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

func runReconciliationLoop(ctx context.Context, recon *services.ReconciliationService) {
	interval := viper.GetDuration("recon.interval")
	if interval <= 0 {
		interval = time.Hour
	}
	log.Printf("[RECON] Background reconciliation every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recon.ReconcileAll(ctx)
		}
	}
}
