// Package engine drives a combiner on a fixed cadence and broadcasts every
// step to subscribers.
package engine

import (
	"time"

	"crowdplay/broadcast"
	"crowdplay/combiner"
)

type requestType int

const (
	requestTick requestType = iota
	requestToggle
	requestSetEnabled
	requestSetInterval
	requestStatus
	requestStop
)

type engineRequest struct {
	typ      requestType
	enabled  bool
	interval time.Duration
	tick     chan Tick
	status   chan Status
	resp     chan error
}

// Engine owns the tick loop. All state below is touched only by run.
type Engine struct {
	combiner *combiner.Combiner
	outputs  *broadcast.Sender[Tick]
	root     *broadcast.Receiver[Tick]
	reqCh    chan engineRequest
	done     chan struct{}
	now      func() time.Time

	seq      uint64
	enabled  bool
	interval time.Duration
	ticker   *time.Ticker
}

// New builds an engine around c and launches the tick loop.
func New(cfg Config, c *combiner.Combiner) *Engine {
	tx, rx := broadcast.Bounded[Tick]()
	// The root receiver is only a template for Subscribe.
	rx.Close()

	e := &Engine{
		combiner: c,
		outputs:  tx,
		root:     rx,
		reqCh:    make(chan engineRequest),
		done:     make(chan struct{}),
		now:      time.Now,
		enabled:  cfg.Enabled,
		interval: cfg.Interval,
	}
	if e.interval < 0 {
		e.interval = 0
	}
	go e.run()
	return e
}

// Combiner returns the combiner the engine steps.
func (e *Engine) Combiner() *combiner.Combiner {
	return e.combiner
}

// Subscribe registers a new receiver for ticks sent from now on. Received
// ticks are shared with other subscribers; copy key slices before changing
// them.
func (e *Engine) Subscribe() *broadcast.Receiver[Tick] {
	return e.root.Clone()
}

// Tick runs one step immediately and returns it.
func (e *Engine) Tick() (Tick, error) {
	tick := make(chan Tick, 1)
	if err := e.submit(engineRequest{typ: requestTick, tick: tick}); err != nil {
		return Tick{}, err
	}
	return <-tick, nil
}

// Toggle flips injection and returns the new state.
func (e *Engine) Toggle() (bool, error) {
	status := make(chan Status, 1)
	if err := e.submit(engineRequest{typ: requestToggle, status: status}); err != nil {
		return false, err
	}
	return (<-status).Enabled, nil
}

// SetEnabled sets the injection state carried on subsequent ticks.
func (e *Engine) SetEnabled(enabled bool) error {
	resp := make(chan error, 1)
	if err := e.submit(engineRequest{typ: requestSetEnabled, enabled: enabled, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// SetInterval retimes the tick loop. Zero stops internal ticking.
func (e *Engine) SetInterval(d time.Duration) error {
	if d < 0 {
		return ErrInvalidInterval
	}
	resp := make(chan error, 1)
	if err := e.submit(engineRequest{typ: requestSetInterval, interval: d, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// Status reports the engine's counters.
func (e *Engine) Status() (Status, error) {
	status := make(chan Status, 1)
	if err := e.submit(engineRequest{typ: requestStatus, status: status}); err != nil {
		return Status{}, err
	}
	return <-status, nil
}

// Stop terminates the loop and disconnects every subscriber. It is safe to
// call more than once.
func (e *Engine) Stop() {
	_ = e.submit(engineRequest{typ: requestStop})
	<-e.done
}

func (e *Engine) submit(req engineRequest) error {
	select {
	case e.reqCh <- req:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) run() {
	defer close(e.done)
	e.resetTicker()

	for {
		select {
		case <-e.tickC():
			e.step()
		case req := <-e.reqCh:
			switch req.typ {
			case requestTick:
				req.tick <- e.step()
			case requestToggle:
				e.enabled = !e.enabled
				req.status <- e.status()
			case requestSetEnabled:
				e.enabled = req.enabled
				req.resp <- nil
			case requestSetInterval:
				e.interval = req.interval
				e.resetTicker()
				req.resp <- nil
			case requestStatus:
				req.status <- e.status()
			case requestStop:
				if e.ticker != nil {
					e.ticker.Stop()
				}
				e.outputs.Close()
				return
			}
		}
	}
}

func (e *Engine) step() Tick {
	e.seq++
	tick := Tick{
		Seq:     e.seq,
		At:      e.now(),
		Output:  e.combiner.Step(),
		Enabled: e.enabled,
	}
	_ = e.outputs.Send(tick)
	return tick
}

func (e *Engine) status() Status {
	return Status{
		Clients:     e.combiner.Len(),
		Subscribers: e.outputs.Subscribers(),
		Ticks:       e.seq,
		Enabled:     e.enabled,
		Interval:    e.interval,
	}
}

func (e *Engine) resetTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.interval > 0 {
		e.ticker = time.NewTicker(e.interval)
	}
}

func (e *Engine) tickC() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C
}
