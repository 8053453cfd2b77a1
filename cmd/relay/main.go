// Command relay follows a server's combined output and replays it into an
// input sink.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"crowdplay/inject"
	"crowdplay/protocol"
)

const retryDelay = 2 * time.Second

func main() {
	url := flag.String("url", "ws://localhost:8090/ws/output", "server output endpoint")
	token := flag.String("token", os.Getenv("AUTH_TOKEN"), "bearer token")
	verbose := flag.Bool("v", false, "log every injected event")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := inject.NewSink(inject.LogDevice{Log: logger}, logger)
	defer sink.Release()

	for {
		err := relay(ctx, *url, *token, sink, logger)
		sink.Release()
		if ctx.Err() != nil {
			logger.Info("relay: stopped")
			return
		}
		logger.Warn("relay: connection lost, retrying", "error", err, "delay", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func relay(ctx context.Context, url, token string, sink *inject.Sink, logger *slog.Logger) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("relay: connected", "url", url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed the stream")
			}
			return err
		}
		out, err := protocol.DecodeOutput(data)
		if err != nil {
			logger.Warn("relay: bad output", "error", err)
			continue
		}
		sink.Apply(out.Combined())
	}
}
