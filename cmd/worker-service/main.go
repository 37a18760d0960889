package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/config"
	"github.com/blueprintlabs/playbook-worker/internal/worker"
	"github.com/blueprintlabs/playbook-worker/internal/worker/agent"
	"github.com/blueprintlabs/playbook-worker/internal/worker/billing"
	"github.com/blueprintlabs/playbook-worker/internal/worker/content"
	"github.com/blueprintlabs/playbook-worker/internal/worker/locate"
	"github.com/blueprintlabs/playbook-worker/internal/worker/publish"
	"github.com/blueprintlabs/playbook-worker/internal/worker/storage"
	"github.com/blueprintlabs/playbook-worker/shared/logger"
	"github.com/blueprintlabs/playbook-worker/shared/postgresql"
	"github.com/blueprintlabs/playbook-worker/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		// The pending-row poller keeps the worker useful while the broker
		// is down, so a failed connect degrades instead of aborting.
		appLogger.Warn("RabbitMQ unavailable, running on poller only",
			slog.Any("error", err),
		)
		rabbitClient = nil
	} else {
		defer rabbitClient.Close()
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	runner := agent.NewRunner(
		agent.NewClient(cfg.Agent.RunnerURL, cfg.Agent.APIKey, appLogger.Logger),
		locate.New(cfg.Agent.WorkDirs, cfg.Agent.ScanRoot, cfg.Agent.ScanWindow, appLogger.Logger),
		agent.Budget{
			WallClock:  cfg.Agent.WallClockBudget,
			MaxTurns:   cfg.Agent.MaxTurns,
			MaxCostUSD: cfg.Agent.MaxCostUSD,
		},
		appLogger.Logger,
	)

	var refresher worker.ContentRefresher
	if cfg.Content.Dir != "" && cfg.Content.Remote != "" {
		refresher = content.NewRefresher(cfg.Content.Dir, cfg.Content.Remote, appLogger.Logger)
	}

	orchestrator := worker.NewOrchestrator(&worker.OrchestratorConfig{
		Store:     store,
		Runner:    runner,
		Publisher: publish.NewPublisher(cfg.Publisher.Endpoint, cfg.Publisher.Token, cfg.Publisher.Domain, appLogger.Logger),
		Capturer:  billing.NewNotifier(store, cfg.Billing.CaptureURL, cfg.Billing.Token, appLogger.Logger),
		Refresher: refresher,
		Logger:    appLogger.Logger,
	})

	w := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Storage:       store,
		RabbitClient:  rabbitClient,
		Orchestrator:  orchestrator,
		Concurrency:   int64(cfg.Worker.Concurrency),
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		PollInterval:  cfg.Worker.PollInterval,
		PollBatchSize: cfg.Worker.PollBatchSize,
		StaleAfter:    cfg.Worker.StaleAfter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker exited with error",
				slog.Any("error", err),
			)
			return err
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, exiting with jobs in flight")
	}

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}, logger)
}
