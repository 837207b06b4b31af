package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/router"
	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/inbox"
	"github.com/cuongbtq/campaign-crm/internal/campaign/leadstore"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
	"github.com/cuongbtq/campaign-crm/internal/campaign/supervisor"
	"github.com/cuongbtq/campaign-crm/internal/campaign/transport"
	"github.com/cuongbtq/campaign-crm/internal/campaign/validator"
	"github.com/cuongbtq/campaign-crm/internal/campaign/worker"
	"github.com/cuongbtq/campaign-crm/internal/config"
	"github.com/cuongbtq/campaign-crm/migrations"
	"github.com/cuongbtq/campaign-crm/shared/logger"
	"github.com/cuongbtq/campaign-crm/shared/postgresql"
	"github.com/cuongbtq/campaign-crm/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/campaign-crm/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
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

	defaultConfigPath := os.Getenv("CAMPAIGN_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/campaign-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateCampaignConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting campaign service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.Int("verification_workers", cfg.Workers.Verification),
		slog.Int("outreach_workers", cfg.Workers.Outreach),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initPostgreSQL(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.RabbitMQClientConfig(), appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	verificationQueue, outreachQueue, redisClient, err := initQueues(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize queues: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	blocklist, err := initBlocklist(&cfg.Validation, appLogger.Component("blocklist"))
	if err != nil {
		return fmt.Errorf("failed to initialize blocklist: %w", err)
	}
	defer blocklist.Stop()

	emailValidator := validator.New(&validator.Config{
		Resolver:      net.DefaultResolver,
		LookupTimeout: cfg.Validation.LookupTimeout,
		Checks:        []validator.Check{blocklist},
		Logger:        appLogger.Component("validator"),
	})

	smtpTransport := transport.NewSMTP(&transport.Config{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		From:               cfg.SMTP.From,
		StartTLS:           cfg.SMTP.StartTLS,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}, appLogger.Component("smtp"))

	results := make(chan domain.Result, cfg.Supervisor.AggregateBudget)

	var leadChecks []worker.LeadCheck
	if cfg.Validation.LeadChecks {
		leadChecks = worker.DefaultLeadChecks
	}

	verificationWorker := worker.NewVerificationWorker(&worker.VerificationConfig{
		Logger:      appLogger.Component("verification"),
		Queue:       verificationQueue,
		Validator:   emailValidator,
		LeadChecks:  leadChecks,
		Results:     results,
		Concurrency: cfg.Workers.Verification,
		TaskTimeout: cfg.Workers.TaskTimeout,
	})

	outreachWorker := worker.NewOutreachWorker(&worker.OutreachConfig{
		Logger:      appLogger.Component("outreach"),
		Queue:       outreachQueue,
		Transport:   smtpTransport,
		Results:     results,
		Concurrency: cfg.Workers.Outreach,
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		SendTimeout: cfg.SMTP.SendTimeout,
	})

	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load report timezone: %w", err)
	}
	schedule, err := supervisor.ParseSchedule(cfg.Report.Time, loc)
	if err != nil {
		return fmt.Errorf("invalid report schedule: %w", err)
	}

	sup := supervisor.New(&supervisor.Config{
		Logger:            appLogger.Component("supervisor"),
		LeadStore:         leadstore.NewPostgres(dbClient.DB()),
		Inbox:             inbox.NewRabbitMQ(rabbitClient, appLogger.Component("inbox")),
		Mailer:            smtpTransport,
		VerificationQueue: verificationQueue,
		OutreachQueue:     outreachQueue,
		Results:           results,
		Workers:           []supervisor.WorkerPool{verificationWorker, outreachWorker},
		PollInterval:      cfg.Supervisor.PollInterval,
		BatchSize:         cfg.Supervisor.BatchSize,
		AggregateBudget:   cfg.Supervisor.AggregateBudget,
		CallTimeout:       cfg.Supervisor.CallTimeout,
		FlushTimeout:      cfg.Supervisor.ShutdownTimeout,
		Schedule:          schedule,
		ReportRecipient:   cfg.Report.Recipient,
		OutreachSubject:   cfg.Outreach.Subject,
		OutreachBody:      cfg.Outreach.Body,
	})

	var statusServer *http.Server
	if cfg.Status.Port != 0 {
		statusServer = startStatusServer(cfg, appLogger, sup, dbClient, rabbitClient)
	}

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- sup.Run(ctx)
	}()

	appLogger.Info("Campaign service is running",
		slog.String("report_schedule", schedule.String()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutdown signal received, stopping supervisor...")
	case err := <-supervisorDone:
		if err == nil {
			err = errors.New("supervisor exited unexpectedly")
		}
		return err
	}

	cancel()

	// Workers may still be finishing a task when the flush window opens
	timer := time.NewTimer(2 * cfg.Supervisor.ShutdownTimeout)
	defer timer.Stop()

	var runErr error
	select {
	case runErr = <-supervisorDone:
	case <-timer.C:
		runErr = errors.New("timed out waiting for supervisor to stop")
		appLogger.Error("Supervisor did not stop in time",
			slog.Duration("timeout", 2*cfg.Supervisor.ShutdownTimeout),
		)
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Status server forced to shutdown",
				slog.Any("error", err),
			)
		}
	}

	if runErr != nil {
		return runErr
	}

	appLogger.Info("Campaign service shutdown complete")
	return nil
}

// initPostgreSQL connects to the lead database and applies migrations when enabled
func initPostgreSQL(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(cfg.Database.PostgreSQLConfig(), logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
		defer cancel()
		if err := client.Migrate(migrateCtx, migrations.FS); err != nil {
			client.Close()
			return nil, err
		}
	}

	return client, nil
}

// initQueues builds the verification and outreach queues on the configured
// backend. The Redis client is returned so the caller can close it.
func initQueues(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (
	queue.Queue[domain.VerificationTask],
	queue.Queue[domain.OutreachTask],
	*goredis.Client,
	error,
) {
	if cfg.Queue.Backend != config.QueueBackendRedis {
		return queue.NewMemory[domain.VerificationTask](cfg.Queue.Capacity),
			queue.NewMemory[domain.OutreachTask](cfg.Queue.Capacity),
			nil, nil
	}

	queueLogger := appLogger.Component("queue")
	client, err := sharedredis.NewClient(ctx, cfg.Redis.RedisClientConfig(), queueLogger)
	if err != nil {
		return nil, nil, nil, err
	}

	prefix := cfg.Queue.KeyPrefix
	return queue.NewRedis[domain.VerificationTask](client, prefix+":verification", queueLogger),
		queue.NewRedis[domain.OutreachTask](client, prefix+":outreach", queueLogger),
		client, nil
}

// initBlocklist loads the disposable-domain blocklist and starts watching its file
func initBlocklist(cfg *config.ValidationConfig, logger *slog.Logger) (*validator.Blocklist, error) {
	defaults := append([]string{}, validator.DefaultDisposableDomains...)
	defaults = append(defaults, cfg.DisposableDomains...)

	blocklist, err := validator.NewBlocklist(defaults, cfg.BlocklistFile, logger)
	if err != nil {
		return nil, err
	}

	if cfg.WatchBlocklist {
		if err := blocklist.Watch(); err != nil {
			return nil, err
		}
	}

	logger.Info("Blocklist loaded",
		slog.Int("domains", blocklist.Len()),
		slog.String("file", cfg.BlocklistFile),
		slog.Bool("watch", cfg.WatchBlocklist),
	)
	return blocklist, nil
}

// startStatusServer exposes the supervisor snapshot and dependency health
func startStatusServer(
	cfg *config.Config,
	appLogger *logger.Logger,
	sup *supervisor.Supervisor,
	dbClient *postgresql.Client,
	rabbitClient *rabbitmq.Client,
) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := map[string]router.HealthCheck{
		"database": dbClient.HealthCheck,
		"rabbitmq": func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		},
	}

	statusLogger := appLogger.Component("status")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
		Handler:           router.SetupStatusRouter(statusLogger, sup, checks),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			statusLogger.Error("Status server failed",
				slog.Any("error", err),
			)
		}
	}()

	statusLogger.Info("Status server listening",
		slog.String("address", srv.Addr),
	)
	return srv
}
