package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/store"
)

type IDGenerator interface {
	NextID() int64
}

type ShortenInput struct {
	OriginalURL    string
	Slug           string
	ExpirationDate *time.Time
}

type Links struct {
	store store.Links
	alloc *Allocator
	ids   IDGenerator
	now   func() time.Time
}

func NewLinks(s store.Links, ids IDGenerator) *Links {
	return &Links{store: s, alloc: NewAllocator(s), ids: ids, now: time.Now}
}

// Shorten creates a link owned by owner.
func (l *Links) Shorten(ctx context.Context, owner internal.Caller, in ShortenInput) (*internal.Link, error) {
	if err := validateDestination(in.OriginalURL); err != nil {
		return nil, err
	}
	if in.ExpirationDate != nil && in.ExpirationDate.Before(l.now()) {
		return nil, fmt.Errorf("%w: expirationDate is in the past", internal.ErrValidation)
	}

	slug, err := l.alloc.Allocate(ctx, in.Slug)
	if err != nil {
		return nil, err
	}

	ownerID := owner.UserID
	link := &internal.Link{
		ID:             l.ids.NextID(),
		OriginalURL:    in.OriginalURL,
		Slug:           slug,
		OwnerID:        &ownerID,
		ExpirationDate: in.ExpirationDate,
	}
	if err := l.store.Create(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (l *Links) List(ctx context.Context, owner internal.Caller) ([]internal.Link, error) {
	return l.store.ListByOwner(ctx, owner.UserID)
}

// RenameSlug moves a link to newSlug. Cache entries under the old slug are
// not evicted and keep resolving until their TTL runs out.
func (l *Links) RenameSlug(ctx context.Context, caller internal.Caller, id int64, newSlug string) (*internal.Link, error) {
	if err := ValidateSlug(newSlug); err != nil {
		return nil, err
	}

	link, err := l.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanManage(link) {
		return nil, fmt.Errorf("rename link %d: %w", id, internal.ErrForbidden)
	}
	if link.Slug == newSlug {
		return link, nil
	}

	return l.store.RenameSlug(ctx, id, newSlug)
}

// Analytics returns the link behind slug together with its visitors.
func (l *Links) Analytics(ctx context.Context, caller internal.Caller, slug string) (*internal.Link, error) {
	link, err := l.store.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !caller.CanManage(link) {
		return nil, fmt.Errorf("analytics for %q: %w", slug, internal.ErrForbidden)
	}
	return link, nil
}

var errBadDestination = errors.New("originalUrl must be an absolute http or https URL")

func validateDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %w", internal.ErrValidation, errBadDestination)
	}
	return nil
}
