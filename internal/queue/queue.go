// Package queue connects the loader to RabbitMQ: load requests arrive on a
// durable queue with retry and dead-letter companions, and run summaries are
// published to a summary queue.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/lobbygraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// retryDelay is how long a message waits in the retry queue before it is
// dead-lettered back to its work queue.
const retryDelay = 10 * time.Second

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Declarer declares queues. *amqp091.Channel satisfies it.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

func Dial(url string) (*amqp091.Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("RabbitMQ URL is empty")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func RetryQueue(name string) string {
	return name + "_retry"
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

// SetupQueues declares each work queue with its dead-letter queue and a
// retry queue whose expired messages flow back into the work queue.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		if _, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", retryName, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}
	return nil
}

// PublishFIFO publishes a persistent message to queueName on the default
// exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName, contentType string, data []byte, headers amqp091.Table) error {
	return ch.PublishWithContext(ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  contentType,
			Body:         data,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
