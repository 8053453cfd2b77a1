package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crowdplay/combiner"
	"crowdplay/config"
	"crowdplay/engine"
	"crowdplay/inject"
	"crowdplay/protocol"
)

const (
	maxMessageSize  = 4096
	writeWait       = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type contextKey int

const subjectKey contextKey = iota

type server struct {
	engine     *engine.Engine
	sessions   *sessionHub
	upgrader   websocket.Upgrader
	authToken  string
	jwtSecret  []byte
	corsOrigin string
	log        *slog.Logger

	mu      sync.Mutex
	applied config.Config
}

type toggleResponse struct {
	Enabled bool `json:"enabled"`
}

type statusResponse struct {
	Clients     int    `json:"clients"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
	Ticks       uint64 `json:"ticks"`
	Enabled     bool   `json:"enabled"`
	Interval    string `json:"interval"`
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	eng := engine.New(engine.Config{Interval: cfg.TickInterval, Enabled: cfg.InjectEnabled}, combiner.New())
	srv := newServer(eng, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := inject.NewSink(inject.LogDevice{Log: logger}, logger)
	go func() {
		if err := sink.Run(ctx, eng.Subscribe()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server: injection stopped", "error", err)
		}
	}()
	go srv.logSteps(ctx)

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next config.Config) {
			srv.applyConfig(next, level)
		})
		if err != nil {
			logger.Warn("server: config watcher unavailable", "path", *configPath, "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("server: listening", "addr", cfg.ListenAddr, "tick_interval", cfg.TickInterval, "inject_enabled", cfg.InjectEnabled)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server: listen failed", "error", err)
		eng.Stop()
		os.Exit(1)
	}
	eng.Stop()
	logger.Info("server: stopped")
}

func newServer(eng *engine.Engine, cfg config.Config, logger *slog.Logger) *server {
	return &server{
		engine:     eng,
		sessions:   newSessionHub(eng.Combiner()),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken:  cfg.AuthToken,
		jwtSecret:  []byte(cfg.JWTSecret),
		corsOrigin: cfg.CORSOrigin,
		log:        logger,
		applied:    cfg,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws/input", s.withCORS(s.withAuth(http.HandlerFunc(s.handleInput))))
	mux.Handle("/ws/output", s.withCORS(s.withAuth(http.HandlerFunc(s.handleOutput))))
	mux.Handle("/toggle", s.withCORS(s.withAuth(http.HandlerFunc(s.handleToggle))))
	mux.Handle("/status", s.withCORS(s.withAuth(http.HandlerFunc(s.handleStatus))))
	return mux
}

func (s *server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth accepts a bearer token from the Authorization header or the token
// query parameter. With a JWT secret configured the token's subject becomes
// the caller's client id.
func (s *server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 && s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if len(s.jwtSecret) > 0 {
			subject, err := s.verifyJWT(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
			return
		}

		if token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) verifyJWT(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

func clientIDFrom(r *http.Request) string {
	if subject, ok := r.Context().Value(subjectKey).(string); ok && subject != "" {
		return subject
	}
	return uuid.NewString()
}

func (s *server) handleInput(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := clientIDFrom(r)
	log := s.log.With("client", clientID, "peer", r.RemoteAddr)
	log.Info("ws: incoming connection")

	ch := s.sessions.Join(clientID)
	defer func() {
		if s.sessions.Leave(clientID) {
			log.Info("ws: client evicted")
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws: read error", "error", err)
			} else {
				log.Info("ws: connection closed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Info("ws: unexpected binary message")
			continue
		}
		s.dispatch(ch, data, log)
	}
}

func (s *server) dispatch(ch *combiner.Channel, data []byte, log *slog.Logger) {
	in, err := protocol.DecodeInput(data)
	if err != nil {
		log.Warn("ws: bad input", "text", string(data), "error", err)
		return
	}

	switch in.Type {
	case protocol.TypeMouse:
		ch.MouseMoveRelative(in.DX, in.DY, in.LeftButton(), in.RightButton())
	case protocol.TypeKeyDown, protocol.TypeKeyUp:
		key, err := in.Key()
		if err != nil {
			log.Warn("ws: unsupported key", "code", in.Code)
			return
		}
		log.Debug("ws: key", "type", in.Type, "key", string(key))
		if in.Type == protocol.TypeKeyDown {
			ch.KeyDown(key)
		} else {
			ch.KeyUp(key)
		}
	}
}

func (s *server) handleOutput(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	rx := s.engine.Subscribe()
	defer rx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		tick, err := rx.RecvContext(ctx)
		if err != nil {
			return
		}
		out := tick.Output
		if !tick.Enabled {
			out = combiner.Output{}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(protocol.NewOutput(out)); err != nil {
			return
		}
	}
}

func (s *server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	enabled, err := s.engine.Toggle()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Info("server: toggle input enabled", "input_enabled", enabled)
	writeJSON(w, http.StatusOK, toggleResponse{Enabled: enabled})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status, err := s.engine.Status()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Clients:     status.Clients,
		Connections: s.sessions.Count(),
		Subscribers: status.Subscribers,
		Ticks:       status.Ticks,
		Enabled:     status.Enabled,
		Interval:    status.Interval.String(),
	})
}

// logSteps logs every step that moves the pointer or changes a button.
func (s *server) logSteps(ctx context.Context) {
	rx := s.engine.Subscribe()
	defer rx.Close()

	var last combiner.Output
	for {
		tick, err := rx.RecvContext(ctx)
		if err != nil {
			return
		}
		out := tick.Output
		if out.Moved() || out.MouseLeftButtonDown != last.MouseLeftButtonDown || out.MouseRightButtonDown != last.MouseRightButtonDown {
			s.log.Debug("step", "seq", tick.Seq, "dx", out.MouseDeltaX, "dy", out.MouseDeltaY,
				"lb", out.MouseLeftButtonDown, "rb", out.MouseRightButtonDown)
		}
		last = out
	}
}

// applyConfig applies only the settings that changed since the last load, so
// a reload never undoes a toggle made through /toggle.
func (s *server) applyConfig(cfg config.Config, level *slog.LevelVar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.TickInterval != s.applied.TickInterval {
		if err := s.engine.SetInterval(cfg.TickInterval); err != nil {
			s.log.Warn("server: tick interval not applied", "error", err)
		}
	}
	if cfg.InjectEnabled != s.applied.InjectEnabled {
		if err := s.engine.SetEnabled(cfg.InjectEnabled); err != nil {
			s.log.Warn("server: inject state not applied", "error", err)
		}
	}
	level.Set(cfg.Level())
	s.applied = cfg
	s.log.Info("server: config applied", "tick_interval", cfg.TickInterval, "inject_enabled", cfg.InjectEnabled)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
