package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/pkg/shadow"
)

// Store keeps shadows in memory.
//
// Characteristics:
//   - Volatile: shadows are lost with the process
//   - Memory-bound: every pending entry is held in RAM
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Readers get a copy of the
// content so later writes never race with them.
type Store struct {
	mu   sync.RWMutex
	data map[shadow.ID]*blob
}

type blob struct {
	data    []byte
	modTime time.Time
}

var _ shadow.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[shadow.ID]*blob)}
}

func (s *Store) Create(ctx context.Context) (shadow.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := shadow.NewID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = &blob{modTime: time.Now()}
	return id, nil
}

func (s *Store) OpenWriter(ctx context.Context, id shadow.ID) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	_, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
	}
	return &writer{store: s, id: id}, nil
}

func (s *Store) OpenReader(ctx context.Context, id shadow.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
	}

	dataCopy := make([]byte, len(b.data))
	copy(dataCopy, b.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

func (s *Store) Stat(ctx context.Context, id shadow.ID) (shadow.Info, error) {
	if err := ctx.Err(); err != nil {
		return shadow.Info{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[id]
	if !ok {
		return shadow.Info{}, fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
	}
	return shadow.Info{Size: int64(len(b.data)), ModTime: b.modTime}, nil
}

func (s *Store) Delete(ctx context.Context, id shadow.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *Store) IDs(ctx context.Context) ([]shadow.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]shadow.ID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close drops every shadow.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[shadow.ID]*blob)
	return nil
}

// Len returns the number of shadows held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type writer struct {
	store  *Store
	id     shadow.ID
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("shadow %s: write after close", w.id)
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.data[w.id] = &blob{data: w.buf.Bytes(), modTime: time.Now()}
	return nil
}
