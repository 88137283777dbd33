package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/report-orchestrator/internal/store"
)

// Store is an in-process Backend for development and tests.
// Every operation is atomic with respect to the others.
type Store struct {
	mu      sync.Mutex
	records map[store.Table]map[store.Key]*store.Entity
}

func New() *Store {
	return &Store{records: make(map[store.Table]map[store.Key]*store.Entity)}
}

func (s *Store) Open() error  { return nil }
func (s *Store) Close() error { return nil }

func (s *Store) table(t store.Table) map[store.Key]*store.Entity {
	m, ok := s.records[t]
	if !ok {
		m = make(map[store.Key]*store.Entity)
		s.records[t] = m
	}
	return m
}

func clone(e *store.Entity) *store.Entity {
	data := make([]byte, len(e.Data))
	copy(data, e.Data)
	return &store.Entity{Key: e.Key, Data: data, ETag: e.ETag}
}

func (s *Store) Get(_ context.Context, t store.Table, key store.Key) (*store.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table(t)[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *Store) Insert(_ context.Context, t store.Table, key store.Key, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.table(t)
	if _, ok := m[key]; ok {
		return "", store.ErrExists
	}
	e := &store.Entity{Key: key, ETag: uuid.NewString()}
	e.Data = append([]byte(nil), data...)
	m[key] = e
	return e.ETag, nil
}

func (s *Store) Replace(_ context.Context, t store.Table, key store.Key, data []byte, etag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table(t)[key]
	if !ok {
		return "", store.ErrNotFound
	}
	if etag != "" && e.ETag != etag {
		return "", store.ErrConflict
	}
	e.Data = append([]byte(nil), data...)
	e.ETag = uuid.NewString()
	return e.ETag, nil
}

func (s *Store) Upsert(_ context.Context, t store.Table, key store.Key, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &store.Entity{Key: key, ETag: uuid.NewString()}
	e.Data = append([]byte(nil), data...)
	s.table(t)[key] = e
	return e.ETag, nil
}

func (s *Store) Delete(_ context.Context, t store.Table, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.table(t)
	if _, ok := m[key]; !ok {
		return store.ErrNotFound
	}
	delete(m, key)
	return nil
}

func (s *Store) List(_ context.Context, t store.Table, partition string) ([]*store.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Entity
	for k, e := range s.table(t) {
		if k.Partition == partition {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out, nil
}
