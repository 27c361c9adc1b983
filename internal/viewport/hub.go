package viewport

import (
	"errors"
	"sync"
)

// Hub is an in-memory Observer fed by explicit Notify calls, for clients
// that report marker visibility over the network.
type Hub struct {
	mu        sync.Mutex
	next      uint64
	observers map[string]map[uint64]func(bool)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[string]map[uint64]func(bool))}
}

// Observe registers onChange for marker.
func (h *Hub) Observe(marker string, onChange func(visible bool)) (func(), error) {
	if marker == "" {
		return nil, errors.New("empty marker")
	}

	h.mu.Lock()
	h.next++
	id := h.next
	if h.observers[marker] == nil {
		h.observers[marker] = make(map[uint64]func(bool))
	}
	h.observers[marker][id] = onChange
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.observers[marker], id)
			if len(h.observers[marker]) == 0 {
				delete(h.observers, marker)
			}
		})
	}, nil
}

// Notify delivers a visibility change for marker and reports whether any
// observer received it.
func (h *Hub) Notify(marker string, visible bool) bool {
	h.mu.Lock()
	callbacks := make([]func(bool), 0, len(h.observers[marker]))
	for _, cb := range h.observers[marker] {
		callbacks = append(callbacks, cb)
	}
	h.mu.Unlock()

	for _, cb := range callbacks {
		cb(visible)
	}
	return len(callbacks) > 0
}

// Observed reports whether marker has at least one observer.
func (h *Hub) Observed(marker string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers[marker]) > 0
}
