package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lobbygraph/backend/pkg/ingest"
	"github.com/lobbygraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// Loader runs one load. *pipeline.Runner satisfies it.
type Loader interface {
	RunArchives(ctx context.Context, runID, path string) (ingest.RunSummary, error)
}

type WorkerParams struct {
	Queue        string
	SummaryQueue string
	MaxRetries   int
}

// Worker consumes load requests one at a time.
type Worker struct {
	pub    Publisher
	loader Loader
	params WorkerParams
}

func NewWorker(pub Publisher, loader Loader, params WorkerParams) *Worker {
	return &Worker{pub: pub, loader: loader, params: params}
}

// Consume handles deliveries until ctx ends or the channel closes.
func (w *Worker) Consume(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", w.params.Queue)
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("[Queue] Delivery channel closed", "queue", w.params.Queue)
				return nil
			}
			w.Handle(ctx, msg)
			logger.Info("[Queue] Waiting for next message", "queue", w.params.Queue)
		}
	}
}

// Handle processes one delivery and acks it. A failed run goes to the retry
// queue until MaxRetries is reached, then to the dead-letter queue. A
// request that cannot be decoded is dead-lettered immediately.
func (w *Worker) Handle(ctx context.Context, msg amqp091.Delivery) {
	startTime := time.Now()
	retries := retryCount(msg.Headers)
	logger.Info("[Queue] Received message", "queue", w.params.Queue, "retries", retries)

	req, err := DecodeLoadRequest(msg.Body)
	if err != nil {
		logger.Error("[Queue] Rejecting malformed message", "queue", w.params.Queue, "err", err)
		w.forward(ctx, msg, DeadLetterQueue(w.params.Queue), msg.Headers)
		return
	}

	summary, runErr := w.loader.RunArchives(ctx, req.RunID, req.ArchivePath)
	w.publishResult(ctx, LoadResult{Request: req, Attempt: retries + 1, Summary: summary})

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			// Shutting down: leave the message for the next worker.
			if err := msg.Nack(false, true); err != nil {
				logger.Error("[Queue] Failed to nack message", "err", err)
			}
			return
		}
		logger.Error("[Queue] Load run failed", "queue", w.params.Queue, "run", summary.RunID, "err", runErr)
		w.handleProcessingError(ctx, msg, retries)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
		logger.Info("[Queue] Message processed successfully", "queue", w.params.Queue, "run", summary.RunID)
	}

	processingDuration := time.Since(startTime)
	hours := int(processingDuration.Hours())
	minutes := int(processingDuration.Minutes()) % 60
	seconds := int(processingDuration.Seconds()) % 60
	logger.Info(
		"[Queue] Processing time",
		"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	)
}

func (w *Worker) publishResult(ctx context.Context, result LoadResult) {
	if w.params.SummaryQueue == "" {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		logger.Error("[Queue] Failed to encode load result", "err", err)
		return
	}
	if err := PublishFIFO(context.WithoutCancel(ctx), w.pub, w.params.SummaryQueue, "application/json", body, nil); err != nil {
		logger.Error("[Queue] Failed to publish load result", "queue", w.params.SummaryQueue, "err", err)
	}
}

func (w *Worker) handleProcessingError(ctx context.Context, msg amqp091.Delivery, retries int) {
	if retries >= w.params.MaxRetries {
		dlqName := DeadLetterQueue(w.params.Queue)
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		w.forward(ctx, msg, dlqName, msg.Headers)
		return
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)
	w.forward(ctx, msg, RetryQueue(w.params.Queue), headers)
}

// forward republishes msg to queueName and acks the original. If publishing
// fails the original is requeued instead.
func (w *Worker) forward(ctx context.Context, msg amqp091.Delivery, queueName string, headers amqp091.Table) {
	err := PublishFIFO(context.WithoutCancel(ctx), w.pub, queueName, msg.ContentType, msg.Body, headers)
	if err != nil {
		logger.Error("[Queue] Failed to forward message", "queue", queueName, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
