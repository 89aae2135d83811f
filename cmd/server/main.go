package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travelflow-backend/config"
	"travelflow-backend/database"
	"travelflow-backend/handlers"
	"travelflow-backend/location"
	appmiddleware "travelflow-backend/middleware"
	"travelflow-backend/repository"
	"travelflow-backend/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const flushInterval = 30 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.DocumentStore
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		store = repository.NewDocumentRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, trip documents are kept in memory only")
		store = repository.NewMemoryDocumentStore()
	}

	sessions := services.NewSessionManager(store, repository.WithRetries(cfg.PersistRetries))
	go sessions.RunFlusher(ctx, flushInterval)

	locations := location.NewClient(cfg.GeocodingTimeout, cfg.WeatherTimeout, location.WithUserAgent(cfg.UserAgent))

	var providers []services.Provider
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal("Failed to create Gemini provider", zap.Error(err))
		}
		providers = append(providers, gemini)
	}
	if cfg.HFAPIKey != "" {
		providers = append(providers, services.NewHuggingFaceProvider(cfg.HFAPIKey, cfg.HFModelURL))
	}
	if len(providers) == 0 {
		logger.Warn("No AI provider configured, itinerary generation will use the placeholder plan")
	}

	ids := services.NewIDGenerator()
	plannerService := services.NewPlannerService(cfg.AITimeout, providers...)
	itineraryService := services.NewItineraryService(sessions, locations, locations, ids)
	tripService := services.NewTripService(sessions, itineraryService, plannerService, locations, locations, ids)

	h := handlers.NewHandlers(tripService, itineraryService, plannerService, sessions, locations)
	currencyHandlers := handlers.NewCurrencyHandlers(locations)
	stream := handlers.NewStreamHandler(sessions, cfg.AllowedOrigins)
	authMiddleware := appmiddleware.NewAuthMiddleware(cfg.JWTSecret, cfg.JWKSURL)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.ZapLogger(logger))
	r.Use(appmiddleware.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(appmiddleware.SecurityHeaders)
	r.Use(appmiddleware.MaxBodySize(cfg.MaxBodySize))
	if cfg.Env == "production" {
		r.Use(appmiddleware.StrictTransportSecurity)
	}

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(services.GeneralRateLimit, 1*time.Minute))

		r.Route("/ai", func(r chi.Router) {
			r.Use(httprate.LimitByIP(services.AIRateLimit, 1*time.Minute))
			r.Use(middleware.Timeout(60 * time.Second))
			h.RegisterAIRoutes(r)
			currencyHandlers.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(appmiddleware.NoStore)

			// Long-lived, so it stays outside the request timeout.
			r.Method(http.MethodGet, "/trips/stream", stream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				h.RegisterRoutes(r)
			})
		})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	sessions.Close(shutdownCtx)

	logger.Info("Server exited")
}
