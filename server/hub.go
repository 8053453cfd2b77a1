package main

import (
	"sync"

	"crowdplay/combiner"
)

// sessionHub counts live connections per client id. Several connections may
// share one id (same token subject); the combiner entry is evicted when the
// last of them closes.
type sessionHub struct {
	mu       sync.Mutex
	conns    map[string]int
	combiner *combiner.Combiner
}

func newSessionHub(c *combiner.Combiner) *sessionHub {
	return &sessionHub{conns: make(map[string]int), combiner: c}
}

func (h *sessionHub) Join(clientID string) *combiner.Channel {
	h.mu.Lock()
	h.conns[clientID]++
	h.mu.Unlock()
	return h.combiner.Channel(clientID)
}

// Leave reports whether the client was evicted.
func (h *sessionHub) Leave(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.conns[clientID]
	if !ok {
		return false
	}
	if n > 1 {
		h.conns[clientID] = n - 1
		return false
	}
	delete(h.conns, clientID)
	return h.combiner.Remove(clientID)
}

// Count returns the number of live connections.
func (h *sessionHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.conns {
		total += n
	}
	return total
}
