package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/farmaflow/farmaflow-backend/internal/stock/events"
	"github.com/farmaflow/farmaflow-backend/internal/stock/handler"
	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/internal/stock/service"
	"github.com/farmaflow/farmaflow-backend/internal/stock/session"
	"github.com/farmaflow/farmaflow-backend/pkg/authtoken"
	"github.com/farmaflow/farmaflow-backend/pkg/config"
	"github.com/farmaflow/farmaflow-backend/pkg/database"
	"github.com/farmaflow/farmaflow-backend/pkg/httputil"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	movementRepo := repository.NewMovementRepository(db)
	lotRepo := repository.NewLotRepository(db, movementRepo)
	productRepo := repository.NewProductRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize verification session store
	var sessionStore session.Store
	switch cfg.Stock.SessionBackend {
	case "redis":
		redisStore, err := session.NewRedisStore(&cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisStore.Close()
		sessionStore = redisStore
	default:
		memStore := session.NewMemoryStore(log)
		memStore.StartSweeper(ctx, cfg.Stock.SessionSweepInterval)
		defer memStore.Stop()
		sessionStore = memStore
	}

	// Initialize services
	stockService := service.NewStockService(lotRepo, movementRepo, productRepo, publisher, cfg.Stock.NearExpiryDays, log)
	syncService := service.NewSyncService(syncRepo, stockService, publisher, log)
	verificationService := service.NewVerificationService(sessionStore, productRepo, lotRepo, cfg.Stock.SessionTTL, log)

	// Start near-expiry scanner
	scanner := service.NewExpiryScanner(lotRepo, publisher, cfg.Stock.NearExpiryDays, cfg.Stock.ExpiryScanInterval, log)
	scanner.Start(ctx)
	defer scanner.Stop()

	// Initialize handlers
	lotHandler := handler.NewLotHandler(stockService, log)
	syncHandler := handler.NewSyncHandler(syncService, log)
	verificationHandler := handler.NewVerificationHandler(verificationService, log)

	// Token verification for actor resolution
	tokens := authtoken.NewManager(&cfg.JWT)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.Identity(tokens))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Get("/", lotHandler.List)
			r.Post("/", lotHandler.Create)
			r.Get("/near-expiry", lotHandler.ListNearExpiry)
			r.Get("/by-barcode/{barcode}", lotHandler.GetByBarcode)
			r.Get("/{id}", lotHandler.Get)
			r.Put("/{id}", lotHandler.Update)
			r.Delete("/{id}", lotHandler.Delete)
			r.Get("/{id}/movements", lotHandler.ListMovements)
			r.Post("/{id}/reserve", lotHandler.Reserve)
			r.Post("/{id}/release", lotHandler.Release)
			r.Post("/{id}/confirm", lotHandler.Confirm)
			r.Post("/{id}/adjust", lotHandler.Adjust)
			r.Post("/{id}/return", lotHandler.Return)
			r.Post("/{id}/write-off", lotHandler.WriteOff)
		})

		// Product-scoped reads
		r.Route("/products/{id}", func(r chi.Router) {
			r.Get("/lots", lotHandler.ListByProduct)
			r.Get("/allocation-plan", lotHandler.AllocationPlan)
		})

		// Offline sale reconciliation
		r.Route("/sync", func(r chi.Router) {
			r.Post("/offline-sales", syncHandler.ProcessBatch)
			r.Get("/pending", syncHandler.ListPending)
			r.Post("/pending/{saleId}/resolve", syncHandler.Resolve)
		})

		// Two-scan verification
		r.Route("/verification-sessions", func(r chi.Router) {
			r.Post("/", verificationHandler.Start)
			r.Get("/{id}", verificationHandler.Get)
			r.Post("/{id}/scan", verificationHandler.Scan)
			r.Get("/{id}/validate", verificationHandler.Validate)
			r.Post("/{id}/finalize", verificationHandler.Finalize)
			r.Delete("/{id}", verificationHandler.Cancel)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop background workers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
