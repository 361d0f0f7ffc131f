package internal

import (
	"sync"

	"github.com/octerm/octerm-hub/pkg/connection"
)

// ClientStoreObserver is notified after the set of registered clients changes.
// Callbacks run outside the map lock but are serialized with the changes they
// describe, so observers see events for an id in the same order the map saw them.
// Observers must not call back into the store.
type ClientStoreObserver interface {
	ClientInserted(clientId int64)
	ClientRemoved(clientId int64)
}

// ClientStore is the registry of live connections: at most one handle per client id.
type ClientStore struct {
	// mut_notify is taken before mut_clientConnections and held until observers
	// have been told about the change.
	mut_notify            sync.Mutex
	mut_clientConnections sync.RWMutex
	clientConnections     map[int64]*connection.Handle
	closed                bool

	observers []ClientStoreObserver
}

func CreateClientStore(observers ...ClientStoreObserver) *ClientStore {
	return &ClientStore{
		mut_clientConnections: sync.RWMutex{},
		clientConnections:     make(map[int64]*connection.Handle),
		observers:             observers,
	}
}

// Insert registers h, replacing any handle already registered for the same client.
// The replaced handle is released before Insert returns. Once the store is closed
// h is released instead and Insert returns false.
func (store *ClientStore) Insert(h *connection.Handle) bool {
	store.mut_notify.Lock()
	store.mut_clientConnections.Lock()
	if store.closed {
		store.mut_clientConnections.Unlock()
		store.mut_notify.Unlock()
		h.Release()
		return false
	}
	prior, had := store.clientConnections[h.ClientId]
	store.clientConnections[h.ClientId] = h
	store.mut_clientConnections.Unlock()

	replaced := had && prior != h
	if replaced {
		store.notifyRemoved(h.ClientId)
	}
	for _, o := range store.observers {
		o.ClientInserted(h.ClientId)
	}
	store.mut_notify.Unlock()

	if replaced {
		prior.Release()
	}
	return true
}

// Remove unregisters whatever handle is held for clientId. It does not release
// the handle; that is left to the caller.
func (store *ClientStore) Remove(clientId int64) (*connection.Handle, bool) {
	store.mut_notify.Lock()
	defer store.mut_notify.Unlock()

	store.mut_clientConnections.Lock()
	h, has := store.clientConnections[clientId]
	if has {
		delete(store.clientConnections, clientId)
	}
	store.mut_clientConnections.Unlock()

	if has {
		store.notifyRemoved(clientId)
	}
	return h, has
}

// RemoveHandle unregisters h only if it is still the handle registered for its
// client, so a stale eviction never removes a newer connection.
func (store *ClientStore) RemoveHandle(h *connection.Handle) bool {
	store.mut_notify.Lock()
	defer store.mut_notify.Unlock()

	store.mut_clientConnections.Lock()
	current, has := store.clientConnections[h.ClientId]
	removed := has && current == h
	if removed {
		delete(store.clientConnections, h.ClientId)
	}
	store.mut_clientConnections.Unlock()

	if removed {
		store.notifyRemoved(h.ClientId)
	}
	return removed
}

func (store *ClientStore) Get(clientId int64) (*connection.Handle, bool) {
	store.mut_clientConnections.RLock()
	defer store.mut_clientConnections.RUnlock()

	h, has := store.clientConnections[clientId]
	return h, has
}

func (store *ClientStore) HasClient(clientId int64) bool {
	_, has := store.Get(clientId)
	return has
}

func (store *ClientStore) Len() int {
	store.mut_clientConnections.RLock()
	defer store.mut_clientConnections.RUnlock()
	return len(store.clientConnections)
}

// Snapshot returns the currently registered handles. Callers may send on them
// without holding any store lock.
func (store *ClientStore) Snapshot() []*connection.Handle {
	store.mut_clientConnections.RLock()
	defer store.mut_clientConnections.RUnlock()

	handles := make([]*connection.Handle, 0, len(store.clientConnections))
	for _, h := range store.clientConnections {
		handles = append(handles, h)
	}
	return handles
}

// ForEach calls fn for every handle in a snapshot of the store.
func (store *ClientStore) ForEach(fn func(h *connection.Handle)) {
	for _, h := range store.Snapshot() {
		fn(h)
	}
}

func (store *ClientStore) ClientIds() []int64 {
	store.mut_clientConnections.RLock()
	defer store.mut_clientConnections.RUnlock()

	ids := make([]int64, 0, len(store.clientConnections))
	for id := range store.clientConnections {
		ids = append(ids, id)
	}
	return ids
}

// Close unregisters and releases every handle. Handles inserted afterwards are
// released immediately.
func (store *ClientStore) Close() {
	store.mut_notify.Lock()
	store.mut_clientConnections.Lock()
	store.closed = true
	handles := store.clientConnections
	store.clientConnections = make(map[int64]*connection.Handle)
	store.mut_clientConnections.Unlock()

	for clientId := range handles {
		store.notifyRemoved(clientId)
	}
	store.mut_notify.Unlock()

	for _, h := range handles {
		h.Release()
	}
}

func (store *ClientStore) notifyRemoved(clientId int64) {
	for _, o := range store.observers {
		o.ClientRemoved(clientId)
	}
}
