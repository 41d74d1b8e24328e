// Package shortener holds the link use cases: slug allocation, resolution of
// a slug to its destination, and link management for authenticated callers.
package shortener

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/MagnunAVF/shortlinks/internal"
)

const (
	slugAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength    = 8
	allocAttempts = 3
	maxCustomSlug = 64
)

var customSlugRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// GenerateSlug draws slugLength characters uniformly from slugAlphabet.
func GenerateSlug() (string, error) {
	b := make([]byte, slugLength)
	max := big.NewInt(int64(len(slugAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		b[i] = slugAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ValidateSlug checks a caller-chosen slug.
func ValidateSlug(slug string) error {
	if !customSlugRe.MatchString(slug) {
		return fmt.Errorf("%w: slug must be 1-%d letters, digits, '-' or '_'", internal.ErrValidation, maxCustomSlug)
	}
	return nil
}

type SlugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type Allocator struct {
	store    SlugChecker
	generate func() (string, error)
}

func NewAllocator(store SlugChecker) *Allocator {
	return &Allocator{store: store, generate: GenerateSlug}
}

// Allocate returns custom when it is valid and free, or a fresh generated
// slug when custom is empty. The existence check is only a fast path; the
// store's unique index still decides on insert.
func (a *Allocator) Allocate(ctx context.Context, custom string) (string, error) {
	if custom != "" {
		if err := ValidateSlug(custom); err != nil {
			return "", err
		}
		taken, err := a.store.SlugExists(ctx, custom)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("slug %q: %w", custom, internal.ErrConflict)
		}
		return custom, nil
	}

	for attempt := 0; attempt < allocAttempts; attempt++ {
		slug, err := a.generate()
		if err != nil {
			return "", err
		}
		taken, err := a.store.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return "", fmt.Errorf("no free slug after %d attempts: %w", allocAttempts, internal.ErrConflict)
}
