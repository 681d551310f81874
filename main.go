package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldpilot/config"
	"coldpilot/middleware"
	"coldpilot/models"
	"coldpilot/routes"
	"coldpilot/transport"
	"coldpilot/utils"
	"coldpilot/worker"

	"github.com/gofiber/fiber/v2"
)

const shutdownGrace = 30 * time.Second

func main() {
	logger := log.New(os.Stdout, "ENGINE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	utils.InitSentry(config.AppConfig.SentryDSN, config.AppConfig.Environment)

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Shared engine collaborators
	creds := transport.EncryptedCredentialStore{}
	transports := transport.Registry{
		models.AccountTypeGoogle: transport.NewGmailTransport(
			config.AppConfig.Google.ClientID,
			config.AppConfig.Google.ClientSecret,
			creds,
		),
		models.AccountTypeZoho: transport.NewZohoTransport(creds),
	}
	assigner := utils.NewCampaignAssigner(config.DB)
	completion := utils.NewCampaignCompletion(config.DB)

	// Background workers
	sendWorker := worker.NewSendCycleWorker(
		config.DB, transports, completion,
		log.New(os.Stdout, "SEND: ", log.LstdFlags),
		time.Duration(config.AppConfig.SendCycleIntervalSeconds)*time.Second,
	)
	checker := worker.NewReplyChecker(config.DB, transports, completion,
		log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	replyWorker := worker.NewReplyWorker(checker,
		log.New(os.Stdout, "REPLY: ", log.LstdFlags),
		time.Duration(config.AppConfig.ReplyCheckIntervalSeconds)*time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sendWorker.Start(ctx)
	go replyWorker.Start(ctx)

	// HTTP surface
	app := fiber.New()
	app.Use(middleware.CORS())
	routes.SetupRoutes(app, config.DB, assigner, completion, checker)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	go func() {
		logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
		if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until a shutdown signal, then drain with a bounded grace period
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("Shutdown signal received, draining...")

	cancel()
	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()
	sendWorker.Wait(graceCtx)
	replyWorker.Wait(graceCtx)

	if err := app.Shutdown(); err != nil {
		logger.Printf("Server shutdown error: %v", err)
	}
	logger.Println("Shutdown complete")
}
