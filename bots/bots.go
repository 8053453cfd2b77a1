// Package bots simulates players that feed input to a crowdplay server.
package bots

import "context"

// Bot represents a simulated player that can be run under a supervisor.
type Bot interface {
	Start(ctx context.Context, client InputClient)
}

// InputClient abstracts the minimal input surface bots need.
type InputClient interface {
	ID() string
	MouseMove(ctx context.Context, dx, dy int32, left, right bool) error
	KeyDown(ctx context.Context, code string) error
	KeyUp(ctx context.Context, code string) error
	Close() error
}
