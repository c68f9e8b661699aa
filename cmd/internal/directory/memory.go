// Package directory resolves the users that own and upload files.
package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/ids"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

// InMemoryStore is the dev/test UserDirectory used when no database is configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]sharing.User
	byUsername map[string]string // username -> id
}

var _ sharing.UserDirectory = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[string]sharing.User),
		byUsername: make(map[string]string),
	}
}

// Create registers username under a fresh id.
func (s *InMemoryStore) Create(ctx context.Context, username string) (sharing.User, error) {
	name, ok := sharing.NormalizeUsername(username)
	if !ok {
		return sharing.User{}, sharing.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return sharing.User{}, err
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return sharing.User{}, err
	}
	u := sharing.User{ID: id, Username: name}
	if err := s.Register(u); err != nil {
		return sharing.User{}, err
	}
	return u, nil
}

// Register stores u as given. Username and id must both be unused.
func (s *InMemoryStore) Register(u sharing.User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Username) == "" {
		return sharing.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[u.Username]; ok {
		return sharing.ErrConflict
	}
	if _, ok := s.byID[u.ID]; ok {
		return sharing.ErrConflict
	}
	s.byID[u.ID] = u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (sharing.User, error) {
	if err := ctx.Err(); err != nil {
		return sharing.User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return sharing.User{}, sharing.ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) FindByUsername(ctx context.Context, username string) (sharing.User, error) {
	if err := ctx.Err(); err != nil {
		return sharing.User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return sharing.User{}, sharing.ErrNotFound
	}
	return s.byID[id], nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
