package main

import (
	"context"
	"log"
	"os"
	"time"

	"sendloop/campaign"
	"sendloop/config"
	"sendloop/middleware"
	"sendloop/provider"
	"sendloop/routes"
	"sendloop/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SENDLOOP: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Wire the engine: provider adapter, cached credential store
	messagingProvider := provider.NewClient(config.AppConfig.Provider.BaseURL, config.AppConfig.Provider.APIKey)
	creds := campaign.NewCredentialCache(
		campaign.NewDBCredentialStore(config.DB),
		config.AppConfig.CredentialCacheTTL,
	)
	engine := campaign.NewEngine(
		config.DB,
		messagingProvider,
		creds,
		time.Duration(config.AppConfig.SendDelaySeconds)*time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start campaign worker
	campaignWorker := worker.NewCampaignWorker(config.DB, engine, config.AppConfig.ProcessInterval, logger)
	go campaignWorker.Start(ctx)

	// Start inbox sync worker
	inboxWorker := worker.NewInboxWorker(config.DB, messagingProvider, creds,
		config.AppConfig.InboxSyncInterval, log.New(os.Stdout, "INBOX: ", log.LstdFlags))
	go inboxWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, engine)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
