package engine

import (
	"errors"
	"time"

	"crowdplay/combiner"
)

var (
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("engine: stopped")
	// ErrInvalidInterval rejects negative tick intervals.
	ErrInvalidInterval = errors.New("engine: tick interval must not be negative")
)

// Config controls the tick loop.
type Config struct {
	// Interval between steps. Zero disables the internal ticker; steps then
	// only happen through Tick.
	Interval time.Duration
	// Enabled is the initial injection state carried on every Tick.
	Enabled bool
}

// Tick is the result of one step as broadcast to subscribers. Every
// subscriber gets the same value, so Output.Keys and Output.Taps share their
// backing arrays and must be treated as read-only.
type Tick struct {
	Seq     uint64
	At      time.Time
	Output  combiner.Output
	Enabled bool
}

// Status summarizes the engine for monitoring.
type Status struct {
	Clients     int           `json:"clients"`
	Subscribers int           `json:"subscribers"`
	Ticks       uint64        `json:"ticks"`
	Enabled     bool          `json:"enabled"`
	Interval    time.Duration `json:"interval"`
}
