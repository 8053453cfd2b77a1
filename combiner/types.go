package combiner

// Key names a physical key on the host, e.g. "w" or "enter".
type Key string

// Output is the fused input for one tick.
type Output struct {
	MouseDeltaX          int32
	MouseDeltaY          int32
	MouseLeftButtonDown  bool
	MouseRightButtonDown bool
	// Keys lists keys held by at least one client at the end of the tick,
	// sorted. Taps lists keys pressed and released within the tick that no
	// client still holds.
	Keys []Key
	Taps []Key
}

// Moved reports whether the output carries any pointer movement.
func (o Output) Moved() bool {
	return o.MouseDeltaX != 0 || o.MouseDeltaY != 0
}
