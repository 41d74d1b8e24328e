// Package analytics moves visit records from the redirect path to the store
// without making redirects wait on it.
//
// The Producer sits in the API process and hands jobs to a Publisher (the
// durable broker queue). The Recorder sits in the worker process and turns
// broker deliveries into appended visits.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MagnunAVF/shortlinks/internal/logger"
)

// Job is one resolved visit. Timestamp is the instant of the redirect, not of
// processing.
type Job struct {
	Slug      string    `json:"slug"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

var (
	ErrQueueFull      = errors.New("analytics buffer full")
	ErrProducerClosed = errors.New("analytics producer closed")
)

type Producer struct {
	pub     Publisher
	timeout time.Duration
	jobs    chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProducer buffers up to size jobs. Each publish attempt is bounded by timeout.
func NewProducer(pub Publisher, size int, timeout time.Duration) *Producer {
	return &Producer{
		pub:     pub,
		timeout: timeout,
		jobs:    make(chan Job, size),
	}
}

// Start launches n publishing goroutines.
func (p *Producer) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Enqueue never blocks.
func (p *Producer) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits until the buffered ones are published
// or ctx ends.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.publish(job)
	}
}

func (p *Producer) publish(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.pub.Publish(ctx, job); err != nil {
		logger.Default().Error("failed to publish visit job, dropping it",
			"slug", job.Slug, "timestamp", job.Timestamp, "err", err)
	}
}
