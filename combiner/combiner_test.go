package combiner

import (
	"math"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestStepEmpty(t *testing.T) {
	c := New()
	if got := c.Step(); !reflect.DeepEqual(got, Output{}) {
		t.Fatalf("expected zero output, got %+v", got)
	}
}

func TestStepSingleMouseMove(t *testing.T) {
	c := New()
	c.Channel("chan").MouseMoveRelative(1, -1, true, false)

	want := Output{MouseDeltaX: 1, MouseDeltaY: -1, MouseLeftButtonDown: true}
	if got := c.Step(); !reflect.DeepEqual(got, want) {
		t.Fatalf("first step: expected %+v, got %+v", want, got)
	}

	want = Output{MouseLeftButtonDown: true}
	if got := c.Step(); !reflect.DeepEqual(got, want) {
		t.Fatalf("second step: expected %+v, got %+v", want, got)
	}
}

func TestDeltasAccumulateWithinTick(t *testing.T) {
	c := New()
	ch := c.Channel("a")
	ch.MouseMoveRelative(3, 1, false, false)
	ch.MouseMoveRelative(4, -5, false, true)

	got := c.Step()
	if got.MouseDeltaX != 7 || got.MouseDeltaY != -4 {
		t.Fatalf("expected summed deltas (7,-4), got (%d,%d)", got.MouseDeltaX, got.MouseDeltaY)
	}
	if got.MouseLeftButtonDown || !got.MouseRightButtonDown {
		t.Fatalf("buttons should reflect the last write, got %+v", got)
	}
}

func TestTwoClientsAverage(t *testing.T) {
	orders := [][]string{{"a", "b"}, {"b", "a"}}
	for _, order := range orders {
		c := New()
		moves := map[string][2]int32{"a": {2, 0}, "b": {0, 2}}
		for _, id := range order {
			m := moves[id]
			c.Channel(id).MouseMoveRelative(m[0], m[1], false, false)
		}
		got := c.Step()
		if got.MouseDeltaX != 1 || got.MouseDeltaY != 1 {
			t.Fatalf("order %v: expected (1,1), got (%d,%d)", order, got.MouseDeltaX, got.MouseDeltaY)
		}
	}
}

func TestButtonMajority(t *testing.T) {
	c := New()
	c.Channel("a").MouseMoveRelative(0, 0, true, false)
	c.Channel("b").MouseMoveRelative(0, 0, true, true)
	c.Channel("c").MouseMoveRelative(0, 0, false, false)

	got := c.Step()
	if !got.MouseLeftButtonDown {
		t.Fatalf("two of three clients hold left, expected down")
	}
	if got.MouseRightButtonDown {
		t.Fatalf("one of three clients holds right, expected up")
	}
}

func TestHandlesAlias(t *testing.T) {
	c := New()
	first := c.Channel("same")
	second := c.Channel("same")

	first.MouseMoveRelative(1, 1, true, true)
	second.MouseMoveRelative(1, 1, false, true)

	if n := c.Len(); n != 1 {
		t.Fatalf("expected one client, got %d", n)
	}
	got := c.Step()
	want := Output{MouseDeltaX: 2, MouseDeltaY: 2, MouseRightButtonDown: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestRemove(t *testing.T) {
	c := New()
	stale := c.Channel("gone")
	stale.KeyDown("w")
	c.Channel("stays").MouseMoveRelative(4, 4, false, false)

	if !c.Remove("gone") {
		t.Fatalf("expected remove to report the client existed")
	}
	if c.Remove("gone") {
		t.Fatalf("second remove should be a no-op")
	}

	stale.MouseMoveRelative(100, 100, true, true)
	got := c.Step()
	want := Output{MouseDeltaX: 4, MouseDeltaY: 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("evicted client leaked into output: %+v", got)
	}
	if ids := c.Clients(); !reflect.DeepEqual(ids, []string{"stays"}) {
		t.Fatalf("unexpected clients %v", ids)
	}
}

func TestKeysHeldWhileAnyClientHolds(t *testing.T) {
	c := New()
	a := c.Channel("a")
	b := c.Channel("b")

	a.KeyDown("w")
	b.KeyDown("w")
	b.KeyDown("space")
	if got := c.Step(); !reflect.DeepEqual(got.Keys, []Key{"space", "w"}) {
		t.Fatalf("expected [space w], got %v", got.Keys)
	}

	a.KeyUp("w")
	if got := c.Step(); !reflect.DeepEqual(got.Keys, []Key{"space", "w"}) {
		t.Fatalf("w still held by b, got %v", got.Keys)
	}

	b.KeyUp("w")
	b.KeyUp("space")
	got := c.Step()
	if len(got.Keys) != 0 || len(got.Taps) != 0 {
		t.Fatalf("expected no keys or taps, got %+v", got)
	}
}

func TestKeyTapWithinTick(t *testing.T) {
	c := New()
	a := c.Channel("a")
	b := c.Channel("b")

	a.KeyDown("e")
	a.KeyUp("e")
	b.KeyDown("q")
	b.KeyUp("q")
	b.KeyDown("q")

	got := c.Step()
	if !reflect.DeepEqual(got.Taps, []Key{"e"}) {
		t.Fatalf("expected tap [e], got %v", got.Taps)
	}
	if !reflect.DeepEqual(got.Keys, []Key{"q"}) {
		t.Fatalf("expected held [q], got %v", got.Keys)
	}

	if got := c.Step(); len(got.Taps) != 0 {
		t.Fatalf("taps should reset after a step, got %v", got.Taps)
	}
}

func TestRemoveReleasesKeys(t *testing.T) {
	c := New()
	c.Channel("a").KeyDown("d")
	c.Remove("a")
	if got := c.Step(); len(got.Keys) != 0 {
		t.Fatalf("evicted client's keys should be released, got %v", got.Keys)
	}
}

func TestSaturatingConversion(t *testing.T) {
	c := New()
	ch := c.Channel("a")
	ch.MouseMoveRelative(math.MaxInt32, math.MinInt32, false, false)
	ch.MouseMoveRelative(math.MaxInt32, math.MinInt32, false, false)

	got := c.Step()
	if got.MouseDeltaX != math.MaxInt32 || got.MouseDeltaY != math.MinInt32 {
		t.Fatalf("expected saturated deltas, got (%d,%d)", got.MouseDeltaX, got.MouseDeltaY)
	}
}

func TestTruncatesTowardZero(t *testing.T) {
	c := New()
	c.Channel("a").MouseMoveRelative(1, -1, false, false)
	c.Channel("b").MouseMoveRelative(0, 0, false, false)

	got := c.Step()
	if got.MouseDeltaX != 0 || got.MouseDeltaY != 0 {
		t.Fatalf("expected (0,0) from means (0.5,-0.5), got (%d,%d)", got.MouseDeltaX, got.MouseDeltaY)
	}
}

func TestChannelNotBlockedByStep(t *testing.T) {
	c := New()
	a := c.Channel("a")
	a.MouseMoveRelative(4, 0, false, false)

	// Hold a's cell so the step stalls inside the reduction.
	a.state.mu.Lock()
	stepped := make(chan Output, 1)
	go func() { stepped <- c.Step() }()
	time.Sleep(20 * time.Millisecond)

	joined := make(chan struct{})
	go func() {
		c.Channel("b")
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(time.Second):
		a.state.mu.Unlock()
		t.Fatalf("Channel blocked behind a running step")
	}
	a.state.mu.Unlock()

	select {
	case <-stepped:
	case <-time.After(time.Second):
		t.Fatalf("step did not finish")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", c.Len())
	}
}

func TestConcurrentProducersLoseNothing(t *testing.T) {
	c := New()
	const producers = 8
	const moves = 1000

	var total int64
	done := make(chan struct{})
	stopped := make(chan struct{})

	// Every producer aliases one client, so each step's mean is that client's delta.
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				total += int64(c.Step().MouseDeltaX)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := c.Channel("shared")
			for j := 0; j < moves; j++ {
				ch.MouseMoveRelative(1, 0, false, false)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-stopped

	total += int64(c.Step().MouseDeltaX)
	if total != producers*moves {
		t.Fatalf("lost updates: expected %d, got %d", producers*moves, total)
	}
}

func BenchmarkStep(b *testing.B) {
	c := New()
	handles := make([]*Channel, 256)
	for i := range handles {
		handles[i] = c.Channel(string(rune('a'+i%26)) + string(rune('0'+i/26)))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, h := range handles {
			h.MouseMoveRelative(1, -1, i%2 == 0, false)
		}
		c.Step()
	}
}
