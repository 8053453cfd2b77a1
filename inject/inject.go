// Package inject turns fused level outputs into edge events on an input
// device. Platform-specific devices live outside this module; LogDevice is
// the dry-run stand-in.
package inject

import (
	"context"
	"errors"
	"log/slog"

	"crowdplay/broadcast"
	"crowdplay/combiner"
	"crowdplay/engine"
)

// Button identifies a mouse button.
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
)

func (b Button) String() string {
	if b == ButtonLeft {
		return "left"
	}
	return "right"
}

// Device is the host input facility.
type Device interface {
	MoveRelative(dx, dy int32)
	ButtonDown(b Button)
	ButtonUp(b Button)
	KeyDown(k combiner.Key)
	KeyUp(k combiner.Key)
}

// Sink applies outputs to a Device, emitting only transitions for buttons and
// keys. It is not safe for concurrent use.
type Sink struct {
	dev   Device
	log   *slog.Logger
	left  bool
	right bool
	held  map[combiner.Key]bool
}

// NewSink wraps dev. A nil logger falls back to slog.Default.
func NewSink(dev Device, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{dev: dev, log: logger, held: make(map[combiner.Key]bool)}
}

// Apply moves the pointer by the output's deltas and reconciles button and
// key levels with the device.
func (s *Sink) Apply(out combiner.Output) {
	if out.Moved() {
		s.dev.MoveRelative(out.MouseDeltaX, out.MouseDeltaY)
	}
	s.setButton(ButtonLeft, &s.left, out.MouseLeftButtonDown)
	s.setButton(ButtonRight, &s.right, out.MouseRightButtonDown)

	want := make(map[combiner.Key]bool, len(out.Keys))
	for _, k := range out.Keys {
		want[k] = true
		if !s.held[k] {
			s.dev.KeyDown(k)
			s.held[k] = true
		}
	}
	for k := range s.held {
		if !want[k] {
			s.dev.KeyUp(k)
			delete(s.held, k)
		}
	}

	for _, k := range out.Taps {
		if s.held[k] {
			continue
		}
		s.dev.KeyDown(k)
		s.dev.KeyUp(k)
	}
}

// Release lets go of every button and key the sink is holding.
func (s *Sink) Release() {
	s.setButton(ButtonLeft, &s.left, false)
	s.setButton(ButtonRight, &s.right, false)
	for k := range s.held {
		s.dev.KeyUp(k)
		delete(s.held, k)
	}
}

// Run applies ticks from rx until the channel disconnects or ctx ends.
// Disabled ticks release held input instead of being applied.
func (s *Sink) Run(ctx context.Context, rx *broadcast.Receiver[engine.Tick]) error {
	defer s.Release()
	enabled := true
	for {
		tick, err := rx.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrDisconnected) {
				return nil
			}
			return err
		}

		if tick.Enabled != enabled {
			enabled = tick.Enabled
			s.log.Info("inject: input toggled", "enabled", enabled)
		}
		if !enabled {
			s.Release()
			continue
		}
		s.Apply(tick.Output)
	}
}

func (s *Sink) setButton(b Button, last *bool, down bool) {
	if *last == down {
		return
	}
	if down {
		s.dev.ButtonDown(b)
	} else {
		s.dev.ButtonUp(b)
	}
	*last = down
}

// LogDevice records injected events to a logger instead of the host.
type LogDevice struct {
	Log *slog.Logger
}

func (d LogDevice) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d LogDevice) MoveRelative(dx, dy int32) {
	d.logger().Debug("inject: move", "dx", dx, "dy", dy)
}

func (d LogDevice) ButtonDown(b Button) {
	d.logger().Debug("inject: button down", "button", b.String())
}

func (d LogDevice) ButtonUp(b Button) {
	d.logger().Debug("inject: button up", "button", b.String())
}

func (d LogDevice) KeyDown(k combiner.Key) {
	d.logger().Debug("inject: key down", "key", string(k))
}

func (d LogDevice) KeyUp(k combiner.Key) {
	d.logger().Debug("inject: key up", "key", string(k))
}
