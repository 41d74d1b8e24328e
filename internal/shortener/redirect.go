package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/analytics"
	"github.com/MagnunAVF/shortlinks/internal/cache"
	"github.com/MagnunAVF/shortlinks/internal/logger"
)

type VisitCounter interface {
	IncrementVisit(ctx context.Context, slug string, now time.Time) (*internal.Link, error)
}

type Enqueuer interface {
	Enqueue(job analytics.Job) error
}

// Visitor describes one incoming resolution request.
type Visitor struct {
	Slug      string
	IP        string
	UserAgent string
}

type Redirector struct {
	cache cache.Cache
	store VisitCounter
	jobs  Enqueuer
	ttl   time.Duration
	now   func() time.Time
}

func NewRedirector(c cache.Cache, store VisitCounter, jobs Enqueuer, ttl time.Duration) *Redirector {
	return &Redirector{cache: c, store: store, jobs: jobs, ttl: ttl, now: time.Now}
}

// Resolve returns the destination for v.Slug.
//
// A cache hit answers immediately and records nothing. On a miss the visit is
// counted in the store, the destination cached and a visit job enqueued. Cache
// and queue failures are logged and never fail the resolution.
func (r *Redirector) Resolve(ctx context.Context, v Visitor) (string, error) {
	log := logger.FromContext(ctx).With("slug", v.Slug)

	dest, err := r.cache.Get(ctx, v.Slug)
	switch {
	case err == nil:
		return dest, nil
	case !errors.Is(err, cache.ErrMiss):
		log.Warn("cache lookup failed, falling back to store", "err", err)
	}

	// timestamptz keeps microseconds; the job carries the same instant the
	// store will hold
	now := r.now().Truncate(time.Microsecond)
	link, err := r.store.IncrementVisit(ctx, v.Slug, now)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", v.Slug, err)
	}

	if err := r.cache.Set(ctx, v.Slug, link.OriginalURL, r.cacheTTL(link, now)); err != nil {
		log.Warn("cache write failed", "err", err)
	}

	err = r.jobs.Enqueue(analytics.Job{
		Slug:      v.Slug,
		IP:        v.IP,
		UserAgent: v.UserAgent,
		Timestamp: now,
	})
	if err != nil {
		log.Error("visit not enqueued", "err", err)
	}

	return link.OriginalURL, nil
}

// cacheTTL keeps a cached entry from outliving the link itself.
func (r *Redirector) cacheTTL(link *internal.Link, now time.Time) time.Duration {
	if link.ExpirationDate == nil {
		return r.ttl
	}
	return min(r.ttl, link.ExpirationDate.Sub(now))
}
