// Package queue carries visit jobs between processes over a durable RabbitMQ
// queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/analytics"
)

var errNotConfirmed = errors.New("broker did not confirm publish")

type RabbitMQ struct {
	conn   *amqp091.Connection
	queue  string
	closed chan *amqp091.Error

	mu  sync.Mutex
	pub *amqp091.Channel
}

// Dial connects and declares the durable queue. The publishing channel runs in
// confirm mode, so Publish returns only once the broker has the message.
func Dial(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w: %w", internal.ErrUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	return &RabbitMQ{conn: conn, queue: queue, pub: ch, closed: closed}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, job analytics.Job) error {
	if r.conn.IsClosed() {
		return fmt.Errorf("publish visit job: %w: %w", internal.ErrUnavailable, amqp091.ErrClosed)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal visit job: %w", err)
	}

	r.mu.Lock()
	conf, err := r.pub.PublishWithDeferredConfirmWithContext(ctx,
		"", r.queue, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    job.Timestamp,
			Body:         body,
		},
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish visit job: %w", err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !ok {
		return errNotConfirmed
	}
	return nil
}

// Consume opens a dedicated channel with the given prefetch and returns its
// deliveries. Deliveries must be acked manually.
func (r *RabbitMQ) Consume(prefetch int) (<-chan amqp091.Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		r.queue, "", false, false, false, false, nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("register consumer: %w", err)
	}
	return msgs, nil
}

// Ping reports whether the connection is still open.
func (r *RabbitMQ) Ping() error {
	if r.conn.IsClosed() {
		return fmt.Errorf("rabbitmq: %w: %w", internal.ErrUnavailable, amqp091.ErrClosed)
	}
	return nil
}

// Closed yields the broker error when the connection drops and is closed
// without a value after Close. Nothing reconnects; the owning process is
// expected to exit and be restarted.
func (r *RabbitMQ) Closed() <-chan *amqp091.Error {
	return r.closed
}

// Close tears down the connection and every channel opened on it.
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}
