package sharing

import (
	"context"
	"sort"
	"sync"
)

// InMemorySessionStore is the dev/test SessionStore used when no database is configured.
type InMemorySessionStore struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byPasskey map[string]string // passkey -> id
}

// NewInMemorySessionStore constructs an empty in-memory SessionStore.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		byID:      make(map[string]*Session),
		byPasskey: make(map[string]string),
	}
}

// Close is a no-op.
func (s *InMemorySessionStore) Close() error { return nil }

func (s *InMemorySessionStore) Create(ctx context.Context, in Session) error {
	if in.ID == "" || in.Passkey == "" || len(in.Members) == 0 {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPasskey[in.Passkey]; ok {
		return ErrConflict
	}
	if _, ok := s.byID[in.ID]; ok {
		return ErrConflict
	}

	cp := in.Clone()
	s.byID[cp.ID] = &cp
	s.byPasskey[cp.Passkey] = cp.ID
	return nil
}

func (s *InMemorySessionStore) GetByPasskey(ctx context.Context, passkey string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPasskey[passkey]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *InMemorySessionStore) AddMember(ctx context.Context, in AddMemberInput) (Session, error) {
	if in.SessionID == "" || in.Username == "" {
		return Session{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[in.SessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !in.Now.IsZero() && !sess.ActiveAt(in.Now) {
		return Session{}, ErrExpired
	}
	if !sess.HasMember(in.Username) {
		sess.Members = append(sess.Members, in.Username)
	}
	return sess.Clone(), nil
}

func (s *InMemorySessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if s.byPasskey[sess.Passkey] == id {
		delete(s.byPasskey, sess.Passkey)
	}
	return nil
}

// List returns all sessions ordered by creation time.
func (s *InMemorySessionStore) List(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Session, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
