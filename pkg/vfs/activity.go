package vfs

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittovfs/pkg/address"
)

// ActivityType classifies an activity event.
type ActivityType int

const (
	ActivityChanged ActivityType = iota
	ActivityCreated
	ActivityDeleted
)

func (t ActivityType) String() string {
	switch t {
	case ActivityChanged:
		return "changed"
	case ActivityCreated:
		return "created"
	case ActivityDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ActivityEvent reports that a node changed in its backing store.
type ActivityEvent struct {
	Type     ActivityType
	Address  address.Address
	NodeType NodeType
}

// ActivityHandler receives activity events.
type ActivityHandler func(ctx context.Context, ev ActivityEvent)

// ActivityHub fans events out to subscribers.
type ActivityHub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]ActivityHandler
}

// NewActivityHub creates a hub with no subscribers.
func NewActivityHub() *ActivityHub {
	return &ActivityHub{handlers: make(map[uint64]ActivityHandler)}
}

// Subscribe registers h and returns a function that removes it.
func (h *ActivityHub) Subscribe(handler ActivityHandler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber in subscription order.
func (h *ActivityHub) Publish(ctx context.Context, ev ActivityEvent) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]ActivityHandler, len(ids))
	for i, id := range ids {
		handlers[i] = h.handlers[id]
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

// Len returns the number of subscribers.
func (h *ActivityHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
