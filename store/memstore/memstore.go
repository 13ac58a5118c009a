// Package memstore provides an in-process origin store. An Origin is the
// shared storage area; each Tab() handle behaves like one browser tab:
// writes through a handle are visible to every handle and notify all the
// others. It backs tests and single-process deployments.
package memstore

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-auth-client/store"
)

var _ store.Store = (*handle)(nil)

// Origin is the shared storage area for one logical origin.
type Origin struct {
	mu      sync.RWMutex
	entries map[string]string
	subs    map[string]map[int]func(store.Event) // handle ID -> sub ID -> fn
	nextSub int
}

// NewOrigin creates an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		entries: make(map[string]string),
		subs:    make(map[string]map[int]func(store.Event)),
	}
}

// Tab returns a new handle onto the origin, analogous to opening a tab.
func (o *Origin) Tab() store.Store {
	return &handle{origin: o, id: uuid.New().String()}
}

type handle struct {
	origin *Origin
	id     string
}

func (h *handle) Get(key string) (string, bool) {
	h.origin.mu.RLock()
	defer h.origin.mu.RUnlock()
	v, ok := h.origin.entries[key]
	return v, ok
}

func (h *handle) Set(key, value string) {
	h.origin.mu.Lock()
	h.origin.entries[key] = value
	fns := h.origin.othersLocked(h.id)
	h.origin.mu.Unlock()

	dispatch(fns, store.Event{Key: key, Value: value, Present: true})
}

func (h *handle) Remove(key string) {
	h.origin.mu.Lock()
	_, existed := h.origin.entries[key]
	delete(h.origin.entries, key)
	fns := h.origin.othersLocked(h.id)
	h.origin.mu.Unlock()

	if existed {
		dispatch(fns, store.Event{Key: key})
	}
}

func (h *handle) RemoveGroup(keys ...string) {
	h.origin.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := h.origin.entries[key]; ok {
			delete(h.origin.entries, key)
			removed = append(removed, key)
		}
	}
	fns := h.origin.othersLocked(h.id)
	h.origin.mu.Unlock()

	for _, key := range removed {
		dispatch(fns, store.Event{Key: key})
	}
}

func (h *handle) Subscribe(fn func(store.Event)) (cancel func()) {
	h.origin.mu.Lock()
	defer h.origin.mu.Unlock()

	if h.origin.subs[h.id] == nil {
		h.origin.subs[h.id] = make(map[int]func(store.Event))
	}
	id := h.origin.nextSub
	h.origin.nextSub++
	h.origin.subs[h.id][id] = fn

	return func() {
		h.origin.mu.Lock()
		defer h.origin.mu.Unlock()
		delete(h.origin.subs[h.id], id)
	}
}

func (h *handle) Close() error {
	h.origin.mu.Lock()
	defer h.origin.mu.Unlock()
	delete(h.origin.subs, h.id)
	return nil
}

// othersLocked snapshots the subscriber functions of every handle except
// the writer. Callers must hold the origin lock.
func (o *Origin) othersLocked(writerID string) []func(store.Event) {
	var fns []func(store.Event)
	for handleID, subs := range o.subs {
		if handleID == writerID {
			continue
		}
		for _, fn := range subs {
			fns = append(fns, fn)
		}
	}
	return fns
}

// dispatch delivers an event outside the origin lock so handlers may call
// back into the store.
func dispatch(fns []func(store.Event), ev store.Event) {
	for _, fn := range fns {
		fn(ev)
	}
}
