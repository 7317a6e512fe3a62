package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"annotation-orchestrator/config"
	"annotation-orchestrator/core/consumer"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/pipeline"
	"annotation-orchestrator/core/repository"
	awsprovider "annotation-orchestrator/providers/aws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("archive consumer exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(config.RoleArchive); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL, cfg.StartupTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	awsClient, err := awsprovider.NewClient(ctx, cfg.Region)
	if err != nil {
		return err
	}
	q, err := awsprovider.NewSQSQueue(ctx, awsClient.SQS, cfg.Queues.Archive, awsprovider.SQSOptions{
		MaxMessages:       int32(cfg.Consumer.MaxMessages),
		WaitSeconds:       int32(cfg.Consumer.WaitSeconds),
		VisibilityTimeout: int32(cfg.Consumer.VisibilityTimeout),
		ResolveTimeout:    cfg.StartupTimeout,
	})
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	go func() {
		if err := monitoring.Serve(":" + cfg.MetricsPort); err != nil {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()

	jobs := repository.NewDynamoJobRepository(awsClient.DynamoDB, cfg.JobsTable, cfg.UserIndex)
	cold := awsprovider.NewGlacierStore(awsClient.Glacier, cfg.Vault)
	handler := pipeline.NewArchiveHandler(
		jobs,
		repository.NewPostgresProfileRepository(db),
		repository.NewDynamoLedger(awsClient.DynamoDB, cfg.OperationsTable),
		awsprovider.NewS3Store(awsClient.S3),
		cold,
		cfg.Buckets.Results,
		metrics,
		logger,
	)

	consumer.NewRunner(q, handler, metrics, logger).Start(ctx)
	return nil
}
