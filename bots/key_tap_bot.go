package bots

import (
	"context"
	"math/rand"
	"time"

	"crowdplay/protocol"
)

// KeyTapBot holds one key at a time and swaps it for another once it has
// been held for Lifetime. Short lifetimes produce taps.
type KeyTapBot struct {
	Interval time.Duration
	Lifetime time.Duration
	Codes    []string
	rand     *rand.Rand
}

type heldKey struct {
	code      string
	pressedAt time.Time
}

func NewKeyTapBot(seed int64) *KeyTapBot {
	return &KeyTapBot{
		Interval: 150 * time.Millisecond,
		Lifetime: 450 * time.Millisecond,
		Codes:    []string{"KeyW", "KeyA", "KeyS", "KeyD", "Space"},
		rand:     rand.New(rand.NewSource(seed)),
	}
}

func (b *KeyTapBot) Start(ctx context.Context, client InputClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	var held *heldKey
	for {
		select {
		case <-ctx.Done():
			b.release(context.Background(), client, held)
			return
		case <-ticker.C:
			held = b.refreshKey(ctx, client, held)
		}
	}
}

func (b *KeyTapBot) refreshKey(ctx context.Context, client InputClient, held *heldKey) *heldKey {
	if held != nil {
		if time.Since(held.pressedAt) < b.Lifetime {
			return held
		}
		held = b.release(ctx, client, held)
	}
	if held != nil || len(b.Codes) == 0 {
		return held
	}

	code := b.Codes[b.rand.Intn(len(b.Codes))]
	if err := client.KeyDown(ctx, code); err != nil {
		return nil
	}
	return &heldKey{code: code, pressedAt: time.Now()}
}

// release returns held unchanged when the key could not be let go.
func (b *KeyTapBot) release(ctx context.Context, client InputClient, held *heldKey) *heldKey {
	if held == nil {
		return nil
	}
	if err := client.KeyUp(ctx, held.code); err != nil {
		return held
	}
	return nil
}

// AllKeysBot cycles through every supported key code.
func AllKeysBot(seed int64) *KeyTapBot {
	b := NewKeyTapBot(seed)
	b.Codes = protocol.KeyCodes()
	b.Lifetime = b.Interval
	return b
}
