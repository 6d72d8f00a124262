package queue

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/timing"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// retryCount reads the attempt counter; brokers may hand it back as any
// integer width.
func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

// failureRoute picks where a failed delivery goes next.
func failureRoute(queueName string, retries int, err error) (target string, final bool) {
	if errors.Is(err, ErrMalformed) || retries >= maxRetries {
		return deadLetterQueue(queueName), true
	}
	return retryQueue(queueName), false
}

// HandleFailure moves msg to the retry queue, or to the dead-letter queue
// once it ran out of attempts or can never succeed. The original is acked
// only after the copy was published.
func HandleFailure(ctx context.Context, ch *amqp091.Channel, msg amqp091.Delivery, queueName string, cause error) {
	retries := retryCount(msg.Headers)
	target, final := failureRoute(queueName, retries, cause)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if !final {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to reroute message", "target", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	if final {
		logger.Warn("[Queue] Message dead-lettered", "queue", queueName, "retries", retries, "err", cause)
	} else {
		logger.Info("[Queue] Message scheduled for retry", "queue", queueName, "attempt", retries+1)
	}
	_ = msg.Ack(false)
}

// Consume handles the deliveries of queueName one at a time until ctx ends
// or the channel closes.
func Consume(ctx context.Context, ch *amqp091.Channel, queueName string, handle func(ctx context.Context, body []byte) error) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(queueName, queueName+"_consumer", false, false, false, false, nil)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Listening for messages", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("[Queue] Message channel closed", "queue", queueName)
				return nil
			}
			start := time.Now()
			if err := handle(ctx, msg.Body); err != nil {
				if ctx.Err() != nil {
					_ = msg.Nack(false, true)
					return nil
				}
				logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
				HandleFailure(ctx, ch, msg, queueName, err)
				continue
			}
			if err := msg.Ack(false); err != nil {
				logger.Error("[Queue] Failed to ack message", "err", err)
			}
			logger.Info("[Queue] Message processed", "queue", queueName, "duration", timing.Clock(time.Since(start)))
		}
	}
}
