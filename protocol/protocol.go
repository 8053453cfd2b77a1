// Package protocol defines the JSON messages exchanged with input clients
// and output relays.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"crowdplay/combiner"
)

// Message types.
const (
	TypeMouse   = "Mouse"
	TypeKeyDown = "KeyDown"
	TypeKeyUp   = "KeyUp"
	TypeOutput  = "Output"
)

var (
	ErrUnknownType    = errors.New("protocol: unknown message type")
	ErrUnsupportedKey = errors.New("protocol: unsupported key code")
	ErrMissingField   = errors.New("protocol: missing field")
)

// ClientInput is one decoded message from an input client. Mouse messages
// carry DX, DY and Btns; key messages carry Code.
type ClientInput struct {
	Type string
	DX   int32
	DY   int32
	Btns uint16
	Code string
}

// wireInput is the JSON shape of ClientInput. Nil fields are absent.
type wireInput struct {
	Type string  `json:"type"`
	DX   *int32  `json:"dx,omitempty"`
	DY   *int32  `json:"dy,omitempty"`
	Btns *uint16 `json:"btns,omitempty"`
	Code *string `json:"code,omitempty"`
}

// MarshalJSON writes exactly the fields the message type carries.
func (in ClientInput) MarshalJSON() ([]byte, error) {
	w := wireInput{Type: in.Type}
	switch in.Type {
	case TypeMouse:
		w.DX, w.DY, w.Btns = &in.DX, &in.DY, &in.Btns
	case TypeKeyDown, TypeKeyUp:
		w.Code = &in.Code
	}
	return json.Marshal(w)
}

// DecodeInput parses and validates a text frame. Every field the message
// type carries must be present.
func DecodeInput(data []byte) (ClientInput, error) {
	var w wireInput
	if err := json.Unmarshal(data, &w); err != nil {
		return ClientInput{}, fmt.Errorf("protocol: decode input: %w", err)
	}

	in := ClientInput{Type: w.Type}
	switch w.Type {
	case TypeMouse:
		if w.DX == nil || w.DY == nil || w.Btns == nil {
			return ClientInput{}, fmt.Errorf("%w: %s needs dx, dy and btns", ErrMissingField, w.Type)
		}
		in.DX, in.DY, in.Btns = *w.DX, *w.DY, *w.Btns
	case TypeKeyDown, TypeKeyUp:
		if w.Code == nil {
			return ClientInput{}, fmt.Errorf("%w: %s needs code", ErrMissingField, w.Type)
		}
		in.Code = *w.Code
	default:
		return ClientInput{}, fmt.Errorf("%w %q", ErrUnknownType, w.Type)
	}
	return in, nil
}

// LeftButton reports bit 0 of the button mask.
func (in ClientInput) LeftButton() bool { return BitAt(in.Btns, 0) }

// RightButton reports bit 1 of the button mask.
func (in ClientInput) RightButton() bool { return BitAt(in.Btns, 1) }

// Key translates the message's key code.
func (in ClientInput) Key() (combiner.Key, error) {
	key, ok := TranslateKeyCode(in.Code)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnsupportedKey, in.Code)
	}
	return key, nil
}

// BitAt reports whether bit n of mask is set. Bits past 15 read as unset.
func BitAt(mask uint16, n uint) bool {
	if n >= 16 {
		return false
	}
	return mask&(1<<n) != 0
}

// Buttons packs button levels into a mask.
func Buttons(left, right bool) uint16 {
	var mask uint16
	if left {
		mask |= 1
	}
	if right {
		mask |= 1 << 1
	}
	return mask
}

// ClientOutput is one fused tick as streamed to relays.
type ClientOutput struct {
	Type string   `json:"type"`
	DX   int32    `json:"dx"`
	DY   int32    `json:"dy"`
	LB   bool     `json:"lb"`
	RB   bool     `json:"rb"`
	Keys []string `json:"keys,omitempty"`
	Taps []string `json:"taps,omitempty"`
}

// NewOutput converts a combiner output for the wire.
func NewOutput(out combiner.Output) ClientOutput {
	return ClientOutput{
		Type: TypeOutput,
		DX:   out.MouseDeltaX,
		DY:   out.MouseDeltaY,
		LB:   out.MouseLeftButtonDown,
		RB:   out.MouseRightButtonDown,
		Keys: keyStrings(out.Keys),
		Taps: keyStrings(out.Taps),
	}
}

// Combined converts a wire output back into a combiner output.
func (o ClientOutput) Combined() combiner.Output {
	return combiner.Output{
		MouseDeltaX:          o.DX,
		MouseDeltaY:          o.DY,
		MouseLeftButtonDown:  o.LB,
		MouseRightButtonDown: o.RB,
		Keys:                 keysFrom(o.Keys),
		Taps:                 keysFrom(o.Taps),
	}
}

// DecodeOutput parses an output frame.
func DecodeOutput(data []byte) (ClientOutput, error) {
	var out ClientOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ClientOutput{}, fmt.Errorf("protocol: decode output: %w", err)
	}
	if out.Type != TypeOutput {
		return ClientOutput{}, fmt.Errorf("%w %q", ErrUnknownType, out.Type)
	}
	return out, nil
}

func keyStrings(keys []combiner.Key) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func keysFrom(names []string) []combiner.Key {
	if len(names) == 0 {
		return nil
	}
	out := make([]combiner.Key, len(names))
	for i, n := range names {
		out[i] = combiner.Key(n)
	}
	return out
}
