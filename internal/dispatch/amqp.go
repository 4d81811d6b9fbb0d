package dispatch

// #region imports
import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// #endregion

// #region amqp-queue

// AMQPQueue is the production Queue backed by a RabbitMQ-compatible broker.
// Both queues are declared durable; requests are published persistent with
// the reply queue as reply-to, and replies are manually acknowledged by the
// dispatcher's reader.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	workQueue  string
	replyQueue string
}

// DialAMQP connects to the broker and declares the work and reply queues.
func DialAMQP(url, workQueue, replyQueue string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	for _, name := range []string{workQueue, replyQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		workQueue:  workQueue,
		replyQueue: replyQueue,
	}, nil
}

// #endregion

// #region publish

// Publish sends one request to the work queue.
func (q *AMQPQueue) Publish(ctx context.Context, correlationID string, body []byte) error {
	err := q.ch.PublishWithContext(ctx, "", q.workQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		ReplyTo:       q.replyQueue,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.workQueue, err)
	}
	return nil
}

// #endregion

// #region consume

// Consume opens the reply queue with manual acknowledgement and adapts
// broker deliveries to the dispatcher's Delivery type.
func (q *AMQPQueue) Consume() (<-chan Delivery, error) {
	msgs, err := q.ch.Consume(q.replyQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.replyQueue, err)
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			m := m
			out <- Delivery{
				CorrelationID: m.CorrelationId,
				Body:          m.Body,
				Ack:           func() { m.Ack(false) },
			}
		}
	}()
	return out, nil
}

// #endregion

// #region close

// Close shuts down the channel and connection; the reply stream closes with
// them.
func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return q.conn.Close()
}

// #endregion
