package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// BatchQueue carries BatchMsg bodies from the server to the workers.
	BatchQueue = "batch_queue"

	// PubSubExchange is the topic exchange results are announced on.
	PubSubExchange = "pubsub_exchange"
	TopicBatchDone = "batch.done"

	retryTTL   = 10 * time.Second
	maxRetries = 10
)

func retryQueue(name string) string { return name + "_retry" }
func deadLetterQueue(name string) string { return name + "_dlq" }

// Init dials RabbitMQ from the RABBITMQ_* variables, retrying while the
// broker starts up.
func Init(ctx context.Context) *amqp091.Connection {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)

	conn, err := util.RetryWithContext(ctx, 5, func(ctx context.Context) (*amqp091.Connection, error) {
		return amqp091.Dial(connURL)
	})
	if err != nil {
		logger.Fatal("[Queue] Failed to connect to RabbitMQ", "err", err)
	}
	return conn
}

// SetupQueues declares the topic exchange and, per queue, the durable main
// queue, a retry queue that dead-letters back into it after retryTTL, and a
// dead-letter queue for messages that ran out of attempts.
func SetupQueues(ch *amqp091.Channel, queueNames ...string) error {
	err := ch.ExchangeDeclare(PubSubExchange, "topic", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", PubSubExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(deadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", deadLetterQueue(name), err)
		}
		_, err := ch.QueueDeclare(
			retryQueue(name),
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryTTL.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryQueue(name), err)
		}
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch *amqp091.Channel, queueName string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func PublishTopic(ctx context.Context, ch *amqp091.Channel, topic string, data []byte) error {
	return ch.PublishWithContext(ctx, PubSubExchange, topic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

// Publisher sends messages to queues and topics.
type Publisher interface {
	PublishFIFO(ctx context.Context, queueName string, data []byte) error
	PublishTopic(ctx context.Context, topic string, data []byte) error
}

// ChannelPublisher publishes on one AMQP channel.
type ChannelPublisher struct {
	Ch *amqp091.Channel
}

func (p ChannelPublisher) PublishFIFO(ctx context.Context, queueName string, data []byte) error {
	return PublishFIFO(ctx, p.Ch, queueName, data)
}

func (p ChannelPublisher) PublishTopic(ctx context.Context, topic string, data []byte) error {
	return PublishTopic(ctx, p.Ch, topic, data)
}
