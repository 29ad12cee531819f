// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
)

// MemoryStore keeps sessions in process memory. It offers the same
// serialization guarantees as the durable stores and exists for tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int]*model.Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int]*model.Session)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Put(ctx context.Context, rec *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*model.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		list = append(list, rec.Clone())
	}
	return list, nil
}

func (s *MemoryStore) UpdateStateAndCommit(ctx context.Context, id int, ev lifecycle.EventKind, errMsg string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %d", lifecycle.ErrUnknownSession, id)
	}
	next := rec.Clone()
	if err := lifecycle.Apply(next, ev, errMsg); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
