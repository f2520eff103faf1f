package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"identify/internal/contact/models"
)

// InMemoryStore keeps contacts in a slice. It is safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts []*models.Contact
	nextID   int64
	clock    func() time.Time

	// section serializes RunLocked callers; separate from mu so the
	// callback can use the store's own methods.
	section sync.Mutex
}

// Option configures an InMemoryStore.
type Option func(*InMemoryStore)

// WithClock sets the clock used for CreatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewInMemory constructs an empty in-memory contact store.
func NewInMemory(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{nextID: 1, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) FindMatching(_ context.Context, email, phone string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if (email != "" && c.EmailValue() == email) || (phone != "" && c.PhoneValue() == phone) {
			out = append(out, cloneContact(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemoryStore) FindCluster(_ context.Context, primaryID int64, candidates []int64) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		linked := c.LinkedID != nil && *c.LinkedID == primaryID
		if c.ID == primaryID || linked || slices.Contains(candidates, c.ID) {
			out = append(out, cloneContact(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemoryStore) Create(_ context.Context, nc models.NewContact) (*models.Contact, error) {
	if err := nc.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if nc.LinkedID != nil {
		if err := s.checkExistsLocked(*nc.LinkedID); err != nil {
			return nil, err
		}
	}

	c := &models.Contact{
		ID:             s.nextID,
		Email:          models.OptionalString(nc.Email),
		PhoneNumber:    models.OptionalString(nc.PhoneNumber),
		LinkPrecedence: nc.LinkPrecedence,
		CreatedAt:      s.clock(),
	}
	if nc.LinkedID != nil {
		linked := *nc.LinkedID
		c.LinkedID = &linked
	}
	s.nextID++
	s.contacts = append(s.contacts, c)
	return cloneContact(c), nil
}

// SoftDelete marks a contact deleted as of at. Used by tests only.
func (s *InMemoryStore) SoftDelete(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == id && c.DeletedAt == nil {
			c.DeletedAt = &at
			return nil
		}
	}
	return fmt.Errorf("soft delete contact %d: %w", id, ErrNotFound)
}

// RunLocked runs fn with every other RunLocked caller excluded. Keys are
// accepted for interface parity with the Postgres advisory locker.
func (s *InMemoryStore) RunLocked(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	s.section.Lock()
	defer s.section.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Count returns the number of stored contacts, deleted ones included.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

// All returns a snapshot of every stored contact in insertion order.
func (s *InMemoryStore) All() []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, cloneContact(c))
	}
	return out
}

// checkExistsLocked mirrors the linked_id foreign key.
func (s *InMemoryStore) checkExistsLocked(id int64) error {
	for _, c := range s.contacts {
		if c.ID == id {
			return nil
		}
	}
	return fmt.Errorf("linked contact %d: %w", id, ErrNotFound)
}

func sortContacts(cs []*models.Contact) {
	slices.SortStableFunc(cs, func(a, b *models.Contact) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

func cloneContact(c *models.Contact) *models.Contact {
	cp := *c
	if c.Email != nil {
		v := *c.Email
		cp.Email = &v
	}
	if c.PhoneNumber != nil {
		v := *c.PhoneNumber
		cp.PhoneNumber = &v
	}
	if c.LinkedID != nil {
		v := *c.LinkedID
		cp.LinkedID = &v
	}
	if c.DeletedAt != nil {
		v := *c.DeletedAt
		cp.DeletedAt = &v
	}
	return &cp
}

// Seed inserts fully formed contacts, keeping their ids, timestamps and
// deletion markers. Used to stage fixtures; nextID moves past the largest id.
func (s *InMemoryStore) Seed(contacts ...*models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		s.contacts = append(s.contacts, cloneContact(c))
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
}
