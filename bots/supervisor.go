package bots

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stats counts what a swarm sent.
type Stats struct {
	Moves     int64
	KeyEvents int64
	Errors    int64
}

// Supervisor runs one bot per client and logs swarm totals.
type Supervisor struct {
	clients  []InputClient
	bots     []Bot
	stats    *statsTracker
	log      *slog.Logger
	LogEvery time.Duration
}

// NewSupervisor pairs every client with a bot, rotating through the bot kinds.
func NewSupervisor(clients []InputClient, seed int64, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	stats := &statsTracker{}
	tracked := make([]InputClient, len(clients))
	bots := make([]Bot, len(clients))
	for i, client := range clients {
		tracked[i] = &trackedClient{InputClient: client, stats: stats}
		bots[i] = newBot(i, seed+int64(i))
	}
	return &Supervisor{
		clients:  tracked,
		bots:     bots,
		stats:    stats,
		log:      logger,
		LogEvery: 2 * time.Second,
	}
}

func newBot(i int, seed int64) Bot {
	switch i % 5 {
	case 1:
		return NewClickerBot(seed)
	case 2:
		return NewKeyTapBot(seed)
	case 4:
		return AllKeysBot(seed)
	default:
		return NewRandomWalkBot(seed)
	}
}

// Start runs the swarm until ctx is canceled and returns the final totals.
// Bots have released their buttons and keys by the time it returns.
func (s *Supervisor) Start(ctx context.Context) Stats {
	logTicker := time.NewTicker(s.LogEvery)
	defer logTicker.Stop()

	var wg sync.WaitGroup
	for i, bot := range s.bots {
		wg.Add(1)
		go func(b Bot, client InputClient) {
			defer wg.Done()
			b.Start(ctx, client)
		}(bot, s.clients[i])
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			stats := s.stats.Snapshot()
			s.log.Info("bots: swarm stopped", "clients", len(s.clients), "moves", stats.Moves, "key_events", stats.KeyEvents, "errors", stats.Errors)
			return stats
		case <-logTicker.C:
			stats := s.stats.Snapshot()
			s.log.Info("bots: swarm", "moves", stats.Moves, "key_events", stats.KeyEvents, "errors", stats.Errors)
		}
	}
}

// Close closes every client.
func (s *Supervisor) Close() {
	for _, client := range s.clients {
		if err := client.Close(); err != nil {
			s.log.Debug("bots: close failed", "client", client.ID(), "error", err)
		}
	}
}

type statsTracker struct {
	moves     atomic.Int64
	keyEvents atomic.Int64
	errors    atomic.Int64
}

func (t *statsTracker) record(counter *atomic.Int64, err error) error {
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.errors.Add(1)
		}
		return err
	}
	counter.Add(1)
	return nil
}

func (t *statsTracker) Snapshot() Stats {
	return Stats{Moves: t.moves.Load(), KeyEvents: t.keyEvents.Load(), Errors: t.errors.Load()}
}

type trackedClient struct {
	InputClient
	stats *statsTracker
}

func (c *trackedClient) MouseMove(ctx context.Context, dx, dy int32, left, right bool) error {
	return c.stats.record(&c.stats.moves, c.InputClient.MouseMove(ctx, dx, dy, left, right))
}

func (c *trackedClient) KeyDown(ctx context.Context, code string) error {
	return c.stats.record(&c.stats.keyEvents, c.InputClient.KeyDown(ctx, code))
}

func (c *trackedClient) KeyUp(ctx context.Context, code string) error {
	return c.stats.record(&c.stats.keyEvents, c.InputClient.KeyUp(ctx, code))
}
