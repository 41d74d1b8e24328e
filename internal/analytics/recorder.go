package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/logger"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// channel while the recorder is still meant to be running.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

type VisitAppender interface {
	AppendVisitor(ctx context.Context, slug string, visit internal.Visit) error
}

type Recorder struct {
	store      VisitAppender
	workers    int
	retryDelay time.Duration
}

// NewRecorder starts workers consumers. A failed append is requeued after
// retryDelay; the broker redelivers it right away otherwise.
func NewRecorder(store VisitAppender, workers int, retryDelay time.Duration) *Recorder {
	if workers < 1 {
		workers = 1
	}
	return &Recorder{store: store, workers: workers, retryDelay: retryDelay}
}

// Run consumes deliveries until ctx is done or the channel closes. A delivery
// is acked only after its visit is stored or its link is gone; every other
// failure goes back to the queue.
func (r *Recorder) Run(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.consume(ctx, deliveries)
		})
	}
	return g.Wait()
}

func (r *Recorder) consume(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, d amqp091.Delivery) {
	log := logger.FromContext(ctx).With("delivery_tag", d.DeliveryTag)

	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.Slug == "" {
		log.Error("undecodable visit job, rejecting", "err", err, "body", string(d.Body))
		// 'false' means don't re-queue
		ackErr(log, d.Reject(false))
		return
	}
	log = log.With("slug", job.Slug)

	// an append already under way finishes even if shutdown starts
	err := r.store.AppendVisitor(context.WithoutCancel(ctx), job.Slug, internal.Visit{
		IP:        job.IP,
		UserAgent: job.UserAgent,
		Timestamp: job.Timestamp,
	})
	switch {
	case err == nil:
		ackErr(log, d.Ack(false))
	case errors.Is(err, internal.ErrNotFound):
		log.Warn("link no longer exists, dropping visit")
		ackErr(log, d.Ack(false))
	default:
		log.Warn("visit append failed, requeueing", "err", err, "redelivered", d.Redelivered)
		r.backoff(ctx)
		ackErr(log, d.Nack(false, true))
	}
}

// backoff holds the delivery for retryDelay unless shutdown starts first.
func (r *Recorder) backoff(ctx context.Context) {
	if r.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(r.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func ackErr(log *slog.Logger, err error) {
	if err != nil {
		log.Error("failed to acknowledge delivery", "err", err)
	}
}
