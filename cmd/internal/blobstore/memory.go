// Package blobstore holds file bytes for sessions and personal drives.
package blobstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/ids"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

// InMemoryStore is the dev/test BlobStore used when no database is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	files map[string]*record
}

type record struct {
	seq  int64
	file sharing.File
	data []byte
}

var _ sharing.BlobStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{files: make(map[string]*record)}
}

func (s *InMemoryStore) Save(ctx context.Context, in sharing.SaveInput) (sharing.File, error) {
	if strings.TrimSpace(in.OwnerUserID) == "" || strings.TrimSpace(in.FileName) == "" {
		return sharing.File{}, sharing.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return sharing.File{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return sharing.File{}, err
	}

	f := sharing.File{
		ID:          id,
		OwnerUserID: in.OwnerUserID,
		SessionID:   cloneID(in.SessionID),
		FileName:    in.FileName,
		FileType:    in.FileType,
		Size:        int64(len(in.Data)),
		Digest:      sharing.Digest(in.Data),
		CreatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.files[id] = &record{seq: s.seq, file: f, data: slices.Clone(in.Data)}
	return cloneFile(f), nil
}

func (s *InMemoryStore) Fetch(ctx context.Context, fileID string) (sharing.Blob, error) {
	if err := ctx.Err(); err != nil {
		return sharing.Blob{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.files[fileID]
	if !ok {
		return sharing.Blob{}, sharing.ErrNotFound
	}
	return sharing.Blob{File: cloneFile(r.file), Data: slices.Clone(r.data)}, nil
}

func (s *InMemoryStore) ListByUser(ctx context.Context, userID string) ([]sharing.File, error) {
	return s.list(ctx, func(f sharing.File) bool { return f.OwnerUserID == userID })
}

func (s *InMemoryStore) ListBySession(ctx context.Context, sessionID string) ([]sharing.File, error) {
	return s.list(ctx, func(f sharing.File) bool { return f.InSession(sessionID) })
}

func (s *InMemoryStore) list(ctx context.Context, keep func(sharing.File) bool) ([]sharing.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]*record, 0, len(s.files))
	for _, r := range s.files {
		if keep(r.file) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]sharing.File, 0, len(matched))
	for _, r := range matched {
		out = append(out, cloneFile(r.file))
	}
	return out, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return sharing.ErrNotFound
	}
	delete(s.files, fileID)
	return nil
}

func (s *InMemoryStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.files {
		if r.file.InSession(sessionID) {
			delete(s.files, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) SetFavourite(ctx context.Context, fileID string, favourite bool) (sharing.File, error) {
	if err := ctx.Err(); err != nil {
		return sharing.File{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.files[fileID]
	if !ok {
		return sharing.File{}, sharing.ErrNotFound
	}
	r.file.Favourite = favourite
	return cloneFile(r.file), nil
}

// Len reports how many files are stored.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func cloneID(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFile(f sharing.File) sharing.File {
	f.SessionID = cloneID(f.SessionID)
	return f
}
