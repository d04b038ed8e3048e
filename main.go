package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pedalsync/internal/backfill"
	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/gearmap"
	"pedalsync/internal/handlers"
	"pedalsync/internal/ingest"
	"pedalsync/internal/metrics"
	"pedalsync/internal/middleware"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/token"
	"pedalsync/internal/worker"
)

func main() {
	// Define CLI flags
	listSubscriptions := flag.Bool("list-strava-subscriptions", false, "List all Strava webhook subscriptions")
	deleteSubscription := flag.String("delete-strava-subscription", "", "Delete a Strava webhook subscription by ID")
	createSubscription := flag.String("create-strava-subscription", "", "Create a Strava webhook subscription with the given callback URL")

	flag.Parse()

	// Check if any CLI command was requested
	if *listSubscriptions || *deleteSubscription != "" || *createSubscription != "" {
		runCLI(*listSubscriptions, *deleteSubscription, *createSubscription)
		return
	}

	// Otherwise, start the server
	runServer()
}

func runCLI(listSubs bool, deleteSub, createSub string) {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	client := strava.NewClient(cfg)
	ctx := context.Background()

	switch {
	case listSubs:
		handleListSubscriptions(ctx, client)
	case deleteSub != "":
		handleDeleteSubscription(ctx, client, deleteSub)
	case createSub != "":
		handleCreateSubscription(ctx, client, cfg, createSub)
	}
}

func handleListSubscriptions(ctx context.Context, client *strava.Client) {
	subscriptions, err := client.ListSubscriptions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list subscriptions: %v\n", err)
		os.Exit(1)
	}

	if len(subscriptions) == 0 {
		fmt.Println("No active subscriptions found.")
		return
	}

	fmt.Printf("Found %d subscription(s):\n\n", len(subscriptions))
	for _, sub := range subscriptions {
		fmt.Printf("ID: %d\n", sub.ID)
		fmt.Printf("  Application ID: %d\n", sub.ApplicationID)
		fmt.Printf("  Callback URL: %s\n", sub.CallbackURL)
		fmt.Printf("  Created: %s\n", sub.CreatedAt)
		fmt.Printf("  Updated: %s\n", sub.UpdatedAt)
		fmt.Println()
	}
}

func handleDeleteSubscription(ctx context.Context, client *strava.Client, idStr string) {
	subscriptionID, err := strconv.Atoi(idStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid subscription ID: %s\n", idStr)
		os.Exit(1)
	}

	fmt.Printf("Deleting subscription %d...\n", subscriptionID)

	err = client.DeleteSubscription(ctx, subscriptionID)
	if err != nil {
		if provider.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: Subscription %d not found\n", subscriptionID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Subscription deleted successfully!")
}

func handleCreateSubscription(ctx context.Context, client *strava.Client, cfg *config.Config, callbackURL string) {
	fmt.Printf("Creating webhook subscription...\n")
	fmt.Printf("Callback URL: %s\n", callbackURL)
	fmt.Println()

	subscription, err := client.CreateSubscription(ctx, callbackURL, cfg.StravaVerifyToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Subscription created successfully!")
	fmt.Printf("  ID: %d\n", subscription.ID)
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting pedalsync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn: cfg.SentryDSN,
		})
		if err != nil {
			logger.Error("Failed to initialize Sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
		logger.Info("Sentry initialized")
	}

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Provider clients and token manager
	stravaClient := strava.NewClient(cfg)
	garminClient := garmin.NewClient(cfg)

	tokens := token.NewManager(db)
	tokens.Register(provider.Strava, stravaClient)
	tokens.Register(provider.Garmin, garminClient)

	gears := gearmap.NewResolver(db)
	ingestService := ingest.NewService(db, tokens, stravaClient, garminClient, gears)
	orchestrator := backfill.NewOrchestrator(db, tokens, stravaClient, garminClient, gears)
	h := handlers.New(db, cfg, orchestrator)

	// Set up HTTP routes
	r := chi.NewRouter()

	// Strava webhook: GET = verification handshake, POST = event
	r.Method(http.MethodGet, "/webhook/strava", middleware.WrapHandler(metrics.EndpointStravaWebhook, h.HandleStravaVerification))
	r.Method(http.MethodPost, "/webhook/strava", middleware.WrapHandler(metrics.EndpointStravaWebhook, h.HandleStravaEvent))

	// Garmin webhooks (ping mode)
	r.Method(http.MethodPost, "/webhook/garmin/ping", middleware.WrapHandler(metrics.EndpointGarminPing, h.HandleGarminPing))
	r.Method(http.MethodPost, "/webhook/garmin/push", middleware.WrapHandler(metrics.EndpointGarminPush, h.HandleGarminPush))
	r.Method(http.MethodPost, "/webhook/garmin/deregistration", middleware.WrapHandler(metrics.EndpointGarminDereg, h.HandleGarminDeregistration))
	r.Method(http.MethodPost, "/webhook/garmin/permissions", middleware.WrapHandler(metrics.EndpointGarminPerms, h.HandleGarminPermissions))

	// Caller-facing backfill endpoints, behind session auth
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return handlers.SessionAuth(cfg.SessionSecret, next)
		})
		r.Method(http.MethodGet, "/{provider}/backfill/fetch", middleware.WrapHandler(metrics.EndpointBackfillFetch, h.HandleBackfillFetch))
		r.Method(http.MethodGet, "/{provider}/backfill/history", middleware.WrapHandler(metrics.EndpointBackfillHistory, h.HandleBackfillHistory))
	})

	// Health check endpoint
	r.Method(http.MethodGet, "/health", middleware.WrapHandler(metrics.EndpointHealth, h.HandleHealth))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start webhook worker in background
	workerInstance := worker.New(db, ingestService)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		logger.Info("Starting webhook worker")
		workerInstance.Run(workerCtx)
	}()

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(workerCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop worker
	workerCancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
