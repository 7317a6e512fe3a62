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
	"annotation-orchestrator/core/executor"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/pipeline"
	"annotation-orchestrator/core/repository"
	awsprovider "annotation-orchestrator/providers/aws"
	"annotation-orchestrator/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("annotator exited", slog.Any("error", err))
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

	if err := cfg.Validate(config.RoleAnnotator); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tool, err := executor.NewCommandTool(cfg.Annotator.Command)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Annotator.JobsDir, 0o755); err != nil {
		return err
	}

	awsClient, err := awsprovider.NewClient(ctx, cfg.Region)
	if err != nil {
		return err
	}
	requests, err := awsprovider.NewSQSQueue(ctx, awsClient.SQS, cfg.Queues.Requests, awsprovider.SQSOptions{
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
	store := awsprovider.NewS3Store(awsClient.S3)

	driver := executor.NewDriver(executor.DriverConfig{
		ResultsBucket:   cfg.Buckets.Results,
		CompletionTopic: cfg.Topics.Completion,
		ArchiveTopic:    cfg.Topics.Archive,
		Layout: storage.ResultLayout{
			Owner:        cfg.Buckets.ResultsOwner,
			ResultSuffix: cfg.Annotator.ResultSuffix,
			LogSuffix:    cfg.Annotator.LogSuffix,
		},
	}, tool, jobs, store, awsprovider.NewSNSPublisher(awsClient.SNS), metrics, logger)

	// Jobs run detached from the signal context so a shutdown lets them finish.
	pool := executor.NewPool(context.Background(), cfg.Annotator.PoolSize, driver, metrics, logger)

	reporter := monitoring.NewStaleJobReporter(jobs, cfg.StaleJobThreshold, cfg.StaleJobSchedule, metrics, logger)
	go func() {
		if err := reporter.Start(ctx); err != nil {
			logger.Error("stale job reporter stopped", slog.Any("error", err))
		}
	}()

	handler := pipeline.NewRequestHandler(jobs, store, pool, cfg.Annotator.JobsDir, logger)
	consumer.NewRunner(requests, handler, metrics, logger).WithCapacity(pool).Start(ctx)

	logger.Info("waiting for running jobs")
	pool.Wait()
	return nil
}
