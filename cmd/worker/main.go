package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lobbygraph/backend/internal/config"
	"github.com/lobbygraph/backend/internal/metrics"
	"github.com/lobbygraph/backend/internal/pipeline"
	"github.com/lobbygraph/backend/internal/queue"
	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/ingest"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.LogFormat,
	})
	logger.Init(consoleLogger)

	runner, err := pipeline.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open loader", "err", err)
	}
	defer func() {
		if err := runner.Close(context.Background()); err != nil {
			logger.Warn("Failed to close store", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		e := metrics.NewServer(runner.Metrics())
		go func() {
			logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
			if err := e.Start(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(ctx); err != nil {
				logger.Error("Failed to shutdown metrics server", "err", err)
			}
		}()
	}

	// Init rabbitmq
	conn, err := queue.Dial(cfg.Queue.URL)
	if err != nil {
		logger.Fatal("Could not connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{cfg.Queue.LoadQueue}
	if cfg.Queue.SummaryQueue != "" {
		queues = append(queues, cfg.Queue.SummaryQueue)
	}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// A load purges the store, so only one runs at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		cfg.Queue.LoadQueue,
		cfg.Queue.LoadQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", cfg.Queue.LoadQueue, "err", err)
	}

	worker := queue.NewWorker(ch, defaultPath{runner: runner, path: cfg.ArchivePath}, queue.WorkerParams{
		Queue:        cfg.Queue.LoadQueue,
		SummaryQueue: cfg.Queue.SummaryQueue,
		MaxRetries:   cfg.Queue.MaxRetries,
	})

	logger.Info("Listening for messages", "queue", cfg.Queue.LoadQueue)
	if err := worker.Consume(ctx, msgs); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

// defaultPath fills in the configured archive path for requests without one.
type defaultPath struct {
	runner *pipeline.Runner
	path   string
}

func (d defaultPath) RunArchives(ctx context.Context, runID, path string) (ingest.RunSummary, error) {
	if path == "" {
		path = d.path
	}
	return d.runner.RunArchives(ctx, runID, path)
}
