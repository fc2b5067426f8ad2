package vfs

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/pkg/fserr"
)

// Well-known attribute keys.
const (
	AttrExists         = "exists"
	AttrSize           = "size"
	AttrCreationTime   = "creation-time"
	AttrLastAccessTime = "last-access-time"
	AttrLastWriteTime  = "last-write-time"
	AttrContentType    = "content-type"
)

// ChangeFunc is called after an attribute is changed through Set.
type ChangeFunc func(key string, value any)

// Attributes is a per-node key/value bag.
//
// Thread Safety:
// All methods are safe for concurrent use. Writers hold the bag's lock for the
// whole update so readers never observe a partially copied bag.
type Attributes struct {
	mu       sync.RWMutex
	values   map[string]any
	readOnly map[string]struct{}
	onChange ChangeFunc
}

// NewAttributes creates an empty bag. Keys listed in readOnly cannot be
// changed through Set; they are maintained by the filesystem via SetQuiet
// and Reset.
func NewAttributes(onChange ChangeFunc, readOnly ...string) *Attributes {
	a := &Attributes{
		values:   make(map[string]any),
		onChange: onChange,
	}
	if len(readOnly) > 0 {
		a.readOnly = make(map[string]struct{}, len(readOnly))
		for _, k := range readOnly {
			a.readOnly[k] = struct{}{}
		}
	}
	return a
}

// Get returns the value stored under key.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set stores a value and fires the change callback.
// Read-only keys fail with fserr.ErrReadOnly.
func (a *Attributes) Set(key string, value any) error {
	if a.IsReadOnly(key) {
		return fserr.New(fserr.ErrReadOnly, "attribute is read-only", key)
	}

	a.mu.Lock()
	a.values[key] = value
	cb := a.onChange
	a.mu.Unlock()

	if cb != nil {
		cb(key, value)
	}
	return nil
}

// SetQuiet stores a value without firing the change callback and without
// honoring read-only keys.
func (a *Attributes) SetQuiet(key string, value any) {
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Delete removes a key quietly.
func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	delete(a.values, key)
	a.mu.Unlock()
}

// IsReadOnly reports whether key is protected from Set.
func (a *Attributes) IsReadOnly(key string) bool {
	_, ok := a.readOnly[key]
	return ok
}

// Keys returns the stored keys in sorted order.
func (a *Attributes) Keys() []string {
	a.mu.RLock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every key/value pair.
func (a *Attributes) Snapshot() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// CopyFrom copies every key/value pair of src into a under a's lock, without
// change notifications. Keys absent from src are left untouched.
func (a *Attributes) CopyFrom(src *Attributes) {
	if src == nil || src == a {
		return
	}
	snap := src.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range snap {
		a.values[k] = v
	}
}

// Reset replaces the whole bag quietly.
func (a *Attributes) Reset(values map[string]any) {
	next := make(map[string]any, len(values))
	for k, v := range values {
		next[k] = v
	}
	a.mu.Lock()
	a.values = next
	a.mu.Unlock()
}

// Int64 returns an integer attribute.
func (a *Attributes) Int64(key string) (int64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

// Time returns a timestamp attribute.
func (a *Attributes) Time(key string) (time.Time, bool) {
	v, ok := a.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Bool returns a boolean attribute.
func (a *Attributes) Bool(key string) (bool, bool) {
	v, ok := a.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// String returns a string attribute.
func (a *Attributes) String(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Size is shorthand for Int64(AttrSize).
func (a *Attributes) Size() (int64, bool) {
	return a.Int64(AttrSize)
}
