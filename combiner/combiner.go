// Package combiner merges the input of many remote clients into one stream.
//
// Every client owns a channel keyed by its id. Producers mutate channels
// concurrently; a single driver calls Step on a fixed cadence, which reduces
// all channels with an equal-weight mean (pointer deltas) and majority vote
// (buttons) and then clears the deltas. Button and key state is level state
// and survives a step.
package combiner

import (
	"math"
	"sort"
	"sync"

	"crowdplay/weighted"
)

type clientState struct {
	mu     sync.Mutex
	deltaX int64
	deltaY int64
	left   bool
	right  bool
	held   map[Key]struct{}
	downs  map[Key]struct{}
	taps   map[Key]struct{}
}

func newClientState() *clientState {
	return &clientState{
		held:  make(map[Key]struct{}),
		downs: make(map[Key]struct{}),
		taps:  make(map[Key]struct{}),
	}
}

// Channel is a handle onto one client's state. Handles for the same id share
// that state.
type Channel struct {
	id    string
	state *clientState
}

// ID returns the client id the handle is bound to.
func (ch *Channel) ID() string {
	return ch.id
}

// MouseMoveRelative adds the deltas to the client's pending movement and
// records the latest button levels.
func (ch *Channel) MouseMoveRelative(dx, dy int32, left, right bool) {
	s := ch.state
	s.mu.Lock()
	s.deltaX += int64(dx)
	s.deltaY += int64(dy)
	s.left = left
	s.right = right
	s.mu.Unlock()
}

// KeyDown marks key as held by this client. Repeats are idempotent.
func (ch *Channel) KeyDown(key Key) {
	s := ch.state
	s.mu.Lock()
	s.held[key] = struct{}{}
	s.downs[key] = struct{}{}
	s.mu.Unlock()
}

// KeyUp releases key for this client. Releasing a key that went down within
// the same tick records a tap.
func (ch *Channel) KeyUp(key Key) {
	s := ch.state
	s.mu.Lock()
	if _, ok := s.held[key]; ok {
		delete(s.held, key)
		if _, pressed := s.downs[key]; pressed {
			s.taps[key] = struct{}{}
		}
	}
	s.mu.Unlock()
}

// Combiner collects per-client input between steps.
type Combiner struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

// New returns an empty combiner.
func New() *Combiner {
	return &Combiner{clients: make(map[string]*clientState)}
}

// Channel returns a handle for clientID, creating the client on first use.
func (c *Combiner) Channel(clientID string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.clients[clientID]
	if !ok {
		state = newClientState()
		c.clients[clientID] = state
	}
	return &Channel{id: clientID, state: state}
}

// Remove evicts clientID. Keys it held stop counting from the next step.
// Handles that outlive the eviction write into a detached cell.
func (c *Combiner) Remove(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.clients[clientID]; !ok {
		return false
	}
	delete(c.clients, clientID)
	return true
}

// Len returns the number of known clients.
func (c *Combiner) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Clients returns the known client ids, sorted.
func (c *Combiner) Clients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Step reduces every client into one Output and clears pending deltas.
// It must be called by a single driver. The client map is locked only long
// enough to snapshot it; each client is then locked on its own.
func (c *Combiner) Step() Output {
	c.mu.Lock()
	states := make([]*clientState, 0, len(c.clients))
	for _, s := range c.clients {
		states = append(states, s)
	}
	c.mu.Unlock()

	count := float64(len(states))
	meanX := weighted.NewMean(count)
	meanY := weighted.NewMean(count)
	left := weighted.NewMajority(count)
	right := weighted.NewMajority(count)

	held := make(map[Key]int)
	tapped := make(map[Key]struct{})

	for _, s := range states {
		s.mu.Lock()

		meanX.Add(float64(s.deltaX), 1)
		meanY.Add(float64(s.deltaY), 1)
		left.Add(s.left, 1)
		right.Add(s.right, 1)

		for key := range s.held {
			held[key]++
		}
		for key := range s.taps {
			tapped[key] = struct{}{}
		}

		s.deltaX = 0
		s.deltaY = 0
		clear(s.downs)
		clear(s.taps)

		s.mu.Unlock()
	}

	out := Output{
		MouseDeltaX:          toInt32(meanX.Compute()),
		MouseDeltaY:          toInt32(meanY.Compute()),
		MouseLeftButtonDown:  left.Compute(),
		MouseRightButtonDown: right.Compute(),
	}

	for key := range held {
		out.Keys = append(out.Keys, key)
	}
	for key := range tapped {
		if held[key] == 0 {
			out.Taps = append(out.Taps, key)
		}
	}
	sortKeys(out.Keys)
	sortKeys(out.Taps)
	return out
}

// toInt32 truncates toward zero and saturates at the int32 range.
func toInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(f)
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
