package bots

import (
	"context"
	"math/rand"
	"time"
)

// RandomWalkBot nudges the pointer by a random step every interval.
type RandomWalkBot struct {
	Interval time.Duration
	MaxStep  int32
	rand     *rand.Rand
}

func NewRandomWalkBot(seed int64) *RandomWalkBot {
	return &RandomWalkBot{
		Interval: 50 * time.Millisecond,
		MaxStep:  8,
		rand:     rand.New(rand.NewSource(seed)),
	}
}

func (b *RandomWalkBot) Start(ctx context.Context, client InputClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dx := b.step()
			dy := b.step()
			_ = client.MouseMove(ctx, dx, dy, false, false)
		}
	}
}

func (b *RandomWalkBot) step() int32 {
	return b.rand.Int31n(2*b.MaxStep+1) - b.MaxStep
}
