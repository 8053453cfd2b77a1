package bots

import (
	"context"
	"math/rand"
	"time"
)

// ClickerBot presses the left button now and then and holds it for HoldFor.
// Chance is the probability of pressing on an idle tick.
type ClickerBot struct {
	Interval time.Duration
	HoldFor  time.Duration
	Chance   float64
	rand     *rand.Rand
}

func NewClickerBot(seed int64) *ClickerBot {
	return &ClickerBot{
		Interval: 100 * time.Millisecond,
		HoldFor:  300 * time.Millisecond,
		Chance:   0.3,
		rand:     rand.New(rand.NewSource(seed)),
	}
}

func (b *ClickerBot) Start(ctx context.Context, client InputClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	var pressedAt time.Time
	for {
		select {
		case <-ctx.Done():
			if !pressedAt.IsZero() {
				_ = client.MouseMove(context.Background(), 0, 0, false, false)
			}
			return
		case <-ticker.C:
			pressedAt = b.refresh(ctx, client, pressedAt)
		}
	}
}

func (b *ClickerBot) refresh(ctx context.Context, client InputClient, pressedAt time.Time) time.Time {
	if !pressedAt.IsZero() {
		if time.Since(pressedAt) < b.HoldFor {
			return pressedAt
		}
		if err := client.MouseMove(ctx, 0, 0, false, false); err != nil {
			return pressedAt
		}
		return time.Time{}
	}

	if b.rand.Float64() >= b.Chance {
		return pressedAt
	}
	if err := client.MouseMove(ctx, 0, 0, true, false); err != nil {
		return pressedAt
	}
	return time.Now()
}
