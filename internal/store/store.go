// Package store persists links, their visitors and user accounts.
//
// Every implementation enforces slug uniqueness itself; callers may pre-check
// with SlugExists, but only a failed write is authoritative and it surfaces as
// internal.ErrConflict. Lookups that find nothing return internal.ErrNotFound.
package store

import (
	"context"
	"time"

	"github.com/MagnunAVF/shortlinks/internal"
)

type Links interface {
	// Create inserts link and fills its ShortURL.
	Create(ctx context.Context, link *internal.Link) error
	// FindBySlug returns the link with its visitors in chronological order.
	FindBySlug(ctx context.Context, slug string) (*internal.Link, error)
	FindByID(ctx context.Context, id int64) (*internal.Link, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]internal.Link, error)
	// IncrementVisit atomically bumps the visit counter of a live link and
	// returns the updated record. Missing and expired links are ErrNotFound.
	IncrementVisit(ctx context.Context, slug string, now time.Time) (*internal.Link, error)
	// RenameSlug rewrites slug and ShortURL of the link with the given id.
	RenameSlug(ctx context.Context, id int64, newSlug string) (*internal.Link, error)
	AppendVisitor(ctx context.Context, slug string, visit internal.Visit) error
}

type Users interface {
	CreateUser(ctx context.Context, user *internal.User) error
	FindUserByUsername(ctx context.Context, username string) (*internal.User, error)
}
