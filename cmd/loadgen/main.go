package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"crowdplay/bots"
	"crowdplay/combiner"
)

func main() {
	clients := flag.Int("clients", 64, "number of simulated clients")
	moves := flag.Int("moves", 100000, "mouse moves per client in inline mode")
	stepEvery := flag.Duration("step-every", time.Millisecond, "combiner step interval in inline mode")
	inline := flag.Bool("inline", true, "drive an in-process combiner instead of a server")
	url := flag.String("url", "ws://localhost:8090/ws/input", "server input endpoint for swarm mode")
	token := flag.String("token", os.Getenv("AUTH_TOKEN"), "bearer token for swarm mode")
	duration := flag.Duration("duration", 10*time.Second, "how long the swarm runs")
	sendEvery := flag.Duration("send-every", 10*time.Millisecond, "per-client send throttle in swarm mode")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for deterministic random streams")
	cpuProfile := flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile := flag.String("memprofile", "", "write heap profile to file")
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *inline {
		runInline(*clients, *moves, *stepEvery, *seed)
	} else {
		runSwarm(*clients, *url, *token, *duration, *sendEvery, *seed)
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err == nil {
			defer f.Close()
			_ = pprof.WriteHeapProfile(f)
		}
	}
}

// runInline has every client goroutine hammer its own channel while one
// driver steps the combiner.
func runInline(clients, moves int, stepEvery time.Duration, seed int64) {
	c := combiner.New()

	var steps, moved int64
	stop := make(chan struct{})
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		ticker := time.NewTicker(stepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if out := c.Step(); out.Moved() {
					moved++
				}
				steps++
			}
		}
	}()

	var wg sync.WaitGroup
	var sent int64
	start := time.Now()
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(i)))
			ch := c.Channel("lg-" + strconv.Itoa(i))
			for n := 0; n < moves; n++ {
				ch.MouseMoveRelative(rng.Int31n(17)-8, rng.Int31n(17)-8, rng.Intn(4) == 0, false)
				atomic.AddInt64(&sent, 1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(stop)
	<-driverDone

	movesPerSec := float64(sent) / elapsed.Seconds()
	stepsPerSec := float64(steps) / elapsed.Seconds()

	fmt.Printf("sent %d moves from %d clients in %s (%.0f moves/s)\n", sent, clients, elapsed.Truncate(time.Millisecond), movesPerSec)
	fmt.Printf("stepped %d times (%.0f steps/s), %d moved the pointer\n", steps, stepsPerSec, moved)
}

// runSwarm connects bots to a running server.
func runSwarm(clients int, url, token string, duration, sendEvery time.Duration, seed int64) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	throttles := make([]*time.Ticker, 0, clients)
	defer func() {
		for _, t := range throttles {
			t.Stop()
		}
	}()

	swarm := make([]bots.InputClient, 0, clients)
	for i := 0; i < clients; i++ {
		throttle := time.NewTicker(sendEvery)
		throttles = append(throttles, throttle)
		client, err := bots.DialWS(ctx, url, token, throttle.C)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dial failed: %v\n", err)
			os.Exit(1)
		}
		swarm = append(swarm, client)
	}

	sup := bots.NewSupervisor(swarm, seed, logger)
	start := time.Now()
	stats := sup.Start(ctx)
	elapsed := time.Since(start)
	sup.Close()

	events := stats.Moves + stats.KeyEvents
	fmt.Printf("swarm of %d sent %d events in %s (%.0f events/s), %d errors\n",
		clients, events, elapsed.Truncate(time.Millisecond), float64(events)/elapsed.Seconds(), stats.Errors)
}
