package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"annotation-orchestrator/api/rest/handlers"
	"annotation-orchestrator/api/rest/routes"
	"annotation-orchestrator/config"
	"annotation-orchestrator/core/repository"
	awsprovider "annotation-orchestrator/providers/aws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", slog.Any("error", err))
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

	if err := cfg.Validate(config.RoleAPI); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL, cfg.StartupTimeout)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	awsClient, err := awsprovider.NewClient(ctx, cfg.Region)
	if err != nil {
		return err
	}

	jobs := repository.NewDynamoJobRepository(awsClient.DynamoDB, cfg.JobsTable, cfg.UserIndex)
	profiles := repository.NewPostgresProfileRepository(db)
	publisher := awsprovider.NewSNSPublisher(awsClient.SNS)

	r := mux.NewRouter()
	routes.SetupRoutes(r,
		handlers.NewJobHandler(jobs, profiles, publisher, cfg.Topics.Requests, cfg.Buckets.Inputs, cfg.Buckets.ResultsOwner, logger),
		handlers.NewSubscriptionHandler(profiles, publisher, cfg.Topics.Restore, logger),
		prometheus.DefaultGatherer,
	)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
