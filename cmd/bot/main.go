package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/config"
	"github.com/instapulse/instapulse/internal/db"
	"github.com/instapulse/instapulse/internal/fetchers"
	"github.com/instapulse/instapulse/internal/monitoring"
	"github.com/instapulse/instapulse/internal/notifications"
	"github.com/instapulse/instapulse/internal/repository"
	"github.com/instapulse/instapulse/internal/scheduler"
	"github.com/instapulse/instapulse/internal/storage"
	"github.com/instapulse/instapulse/internal/trend"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Instagram trend monitor")

	database, err := db.New(cfg.DatabaseURL, cfg.Debug)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logrus.Fatalf("Failed to migrate schema: %v", err)
	}

	repo := repository.New(database.DB)

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize fetcher: %v", err)
	}
	logrus.Infof("Using %s fetcher", fetcher.Name())

	var archive storage.Archive
	if cfg.StorageAccount != "" {
		archive, err = storage.NewAzureArchive(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize archive storage: %v", err)
		}
	}

	trendService := trend.NewService(trend.Config{
		GrowthThresholdPercent: cfg.TrendGrowthThreshold,
		MaxPostAge:             cfg.TrendMaxPostAge,
		MinSnapshots:           cfg.TrendMinSnapshots,
	})

	monitoringService := monitoring.NewService(repo, fetcher, trendService, archive)
	telegramService := notifications.NewTelegramService(repo, cfg.TelegramBotToken)
	digest := notifications.NewEmailDigest(cfg)

	schedulerService := scheduler.NewService(cfg, monitoringService, telegramService, digest)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// Set up HTTP server for health checks and the manual trigger
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler(database)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(monitoringService)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(monitoringService, telegramService)).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func buildFetcher(cfg *config.Config) (fetchers.Fetcher, error) {
	switch cfg.FetcherProvider {
	case config.ProviderApify:
		return fetchers.NewApifyFetcher(cfg.ApifyToken, cfg.ApifyActorID, cfg.ResultsLimit, cfg.ContentLookback), nil

	case config.ProviderLobstr:
		var store fetchers.SquidStore = fetchers.NewMemorySquidStore()
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			store = fetchers.NewRedisSquidStore(redis.NewClient(opts))
		} else {
			logrus.Warn("REDIS_URL not set, squid mapping will not survive restarts")
		}
		return fetchers.NewLobstrFetcher(cfg.LobstrAPIKey, cfg.LobstrCrawlerHash, store), nil

	case config.ProviderScrapeCreators:
		return fetchers.NewScrapeCreatorsFetcher(cfg.ScrapeCreatorsAPIKey, cfg.ContentLookback), nil

	default:
		return nil, fmt.Errorf("unknown fetcher provider %q", cfg.FetcherProvider)
	}
}

func healthCheckHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	}
}

func metricsHandler(monitoringService *monitoring.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(monitoringService.GetMetrics()))
	}
}

func triggerHandler(monitoringService *monitoring.Service, sender notifications.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			if err := monitoringService.RunMonitoring(ctx); err != nil {
				logrus.Errorf("Manual monitoring trigger failed: %v", err)
				return
			}
			if err := sender.SendPendingAlerts(ctx); err != nil {
				logrus.Errorf("Alert delivery failed: %v", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Monitoring pass triggered"}`))
	}
}
