package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MagnunAVF/shortlinks/internal"
)

// Memory keeps everything in process. One mutex guards all maps, which makes
// every operation atomic with respect to the others.
type Memory struct {
	mu        sync.Mutex
	shortBase string
	links     map[int64]*internal.Link
	slugs     map[string]int64
	users     map[string]*internal.User
	userIDs   map[int64]struct{}
	nextVisit int64
}

func NewMemory(shortBase string) *Memory {
	return &Memory{
		shortBase: shortBase,
		links:     make(map[int64]*internal.Link),
		slugs:     make(map[string]int64),
		users:     make(map[string]*internal.User),
		userIDs:   make(map[int64]struct{}),
	}
}

func (m *Memory) Create(_ context.Context, link *internal.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slugs[link.Slug]; ok {
		return fmt.Errorf("create link %q: %w", link.Slug, internal.ErrConflict)
	}
	if _, ok := m.links[link.ID]; ok {
		return fmt.Errorf("create link %d: %w", link.ID, internal.ErrConflict)
	}

	now := time.Now()
	link.ShortURL = internal.ShortURL(m.shortBase, link.Slug)
	link.CreatedAt, link.UpdatedAt = now, now
	stored := cloneLink(link)
	stored.Visitors = nil
	m.links[link.ID] = stored
	m.slugs[link.Slug] = link.ID
	return nil
}

func (m *Memory) FindBySlug(_ context.Context, slug string) (*internal.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.bySlug(slug)
	if !ok {
		return nil, fmt.Errorf("find link by slug %q: %w", slug, internal.ErrNotFound)
	}
	out := cloneLink(link)
	sort.SliceStable(out.Visitors, func(i, j int) bool {
		return out.Visitors[i].Timestamp.Before(out.Visitors[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) FindByID(_ context.Context, id int64) (*internal.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return nil, fmt.Errorf("find link %d: %w", id, internal.ErrNotFound)
	}
	out := cloneLink(link)
	out.Visitors = nil
	return out, nil
}

func (m *Memory) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.slugs[slug]
	return ok, nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID int64) ([]internal.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []internal.Link
	for _, link := range m.links {
		if link.OwnerID != nil && *link.OwnerID == ownerID {
			l := cloneLink(link)
			l.Visitors = nil
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) IncrementVisit(_ context.Context, slug string, now time.Time) (*internal.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.bySlug(slug)
	if !ok || link.Expired(now) {
		return nil, fmt.Errorf("increment visits of %q: %w", slug, internal.ErrNotFound)
	}
	link.VisitCount++
	out := cloneLink(link)
	out.Visitors = nil
	return out, nil
}

func (m *Memory) RenameSlug(_ context.Context, id int64, newSlug string) (*internal.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return nil, fmt.Errorf("find link %d: %w", id, internal.ErrNotFound)
	}
	if owner, taken := m.slugs[newSlug]; taken && owner != id {
		return nil, fmt.Errorf("rename link %d to %q: %w", id, newSlug, internal.ErrConflict)
	}

	if link.Slug != newSlug {
		delete(m.slugs, link.Slug)
		m.slugs[newSlug] = id
		link.Slug = newSlug
		link.ShortURL = internal.ShortURL(m.shortBase, newSlug)
		link.UpdatedAt = time.Now()
	}
	out := cloneLink(link)
	out.Visitors = nil
	return out, nil
}

func (m *Memory) AppendVisitor(_ context.Context, slug string, visit internal.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.bySlug(slug)
	if !ok {
		return fmt.Errorf("append visitor to %q: %w", slug, internal.ErrNotFound)
	}
	m.nextVisit++
	visit.ID = m.nextVisit
	visit.LinkID = link.ID
	link.Visitors = append(link.Visitors, visit)
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user *internal.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return fmt.Errorf("create user %q: %w", user.Username, internal.ErrConflict)
	}
	if _, ok := m.userIDs[user.ID]; ok {
		return fmt.Errorf("create user %d: %w", user.ID, internal.ErrConflict)
	}
	user.CreatedAt = time.Now()
	u := *user
	m.users[user.Username] = &u
	m.userIDs[user.ID] = struct{}{}
	return nil
}

func (m *Memory) FindUserByUsername(_ context.Context, username string) (*internal.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("find user %q: %w", username, internal.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (m *Memory) bySlug(slug string) (*internal.Link, bool) {
	id, ok := m.slugs[slug]
	if !ok {
		return nil, false
	}
	return m.links[id], true
}

func cloneLink(l *internal.Link) *internal.Link {
	out := *l
	if l.OwnerID != nil {
		owner := *l.OwnerID
		out.OwnerID = &owner
	}
	if l.ExpirationDate != nil {
		exp := *l.ExpirationDate
		out.ExpirationDate = &exp
	}
	out.Visitors = append([]internal.Visit(nil), l.Visitors...)
	return &out
}
