package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/handler"
	"github.com/cuongbtq/campaign-crm/internal/api/router"
	"github.com/cuongbtq/campaign-crm/internal/api/storage"
	"github.com/cuongbtq/campaign-crm/internal/campaign/inbox"
	"github.com/cuongbtq/campaign-crm/internal/config"
	"github.com/cuongbtq/campaign-crm/migrations"
	"github.com/cuongbtq/campaign-crm/shared/logger"
	"github.com/cuongbtq/campaign-crm/shared/postgresql"
	"github.com/cuongbtq/campaign-crm/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const migrateTimeout = time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting lead API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.RabbitMQClientConfig(), appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	r := initRouter(cfg.App.Environment, appLogger, dbClient, rabbitClient)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("Lead API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initPostgreSQL connects to the lead database and applies migrations when enabled
func initPostgreSQL(cfg *config.Config, logger *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(cfg.Database.PostgreSQLConfig(), logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
		defer cancel()
		if err := client.Migrate(ctx, migrations.FS); err != nil {
			client.Close()
			return nil, err
		}
	}

	return client, nil
}

// initRouter wires storage and the signal publisher into the Gin router
func initRouter(environment string, appLogger *logger.Logger, dbClient *postgresql.Client, rabbitClient *rabbitmq.Client) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:  appLogger.Component("api"),
		Leads:   storage.NewStorage(dbClient.DB()),
		Signals: inbox.NewPublisher(rabbitClient),
	}

	checks := map[string]router.HealthCheck{
		"database": dbClient.HealthCheck,
		"rabbitmq": rabbitHealth(rabbitClient),
	}

	return router.SetupRouter(deps, checks)
}

func rabbitHealth(client *rabbitmq.Client) router.HealthCheck {
	return func(context.Context) error {
		if !client.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	}
}
