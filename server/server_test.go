package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"crowdplay/combiner"
	"crowdplay/config"
	"crowdplay/engine"
	"crowdplay/protocol"
)

func newTestServer(t *testing.T, cfg config.Config) (*server, *httptest.Server) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true}, combiner.New())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := newServer(eng, cfg, logger)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		eng.Stop()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestInputIsCombined(t *testing.T) {
	srv, ts := newTestServer(t, config.Default())
	conn := dial(t, ts, "/ws/input", nil)

	require.NoError(t, conn.WriteJSON(protocol.ClientInput{Type: protocol.TypeMouse, DX: 5, DY: -5, Btns: 1}))
	require.NoError(t, conn.WriteJSON(protocol.ClientInput{Type: protocol.TypeKeyDown, Code: "KeyW"}))

	var got combiner.Output
	require.Eventually(t, func() bool {
		tick, err := srv.engine.Tick()
		if err != nil {
			return false
		}
		if tick.Output.Moved() {
			got = tick.Output
		}
		return got.Moved() && len(tick.Output.Keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, int32(5), got.MouseDeltaX)
	require.Equal(t, int32(-5), got.MouseDeltaY)
	require.True(t, got.MouseLeftButtonDown)
}

func TestBadInputKeepsConnection(t *testing.T) {
	srv, ts := newTestServer(t, config.Default())
	conn := dial(t, ts, "/ws/input", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Teleport"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Mouse","dx":9}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.WriteJSON(protocol.ClientInput{Type: protocol.TypeKeyDown, Code: "F13"}))
	require.NoError(t, conn.WriteJSON(protocol.ClientInput{Type: protocol.TypeMouse, DX: 2}))

	require.Eventually(t, func() bool {
		tick, err := srv.engine.Tick()
		return err == nil && tick.Output.MouseDeltaX == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectEvictsClient(t *testing.T) {
	srv, ts := newTestServer(t, config.Default())
	conn := dial(t, ts, "/ws/input", nil)

	require.Eventually(t, func() bool { return srv.engine.Combiner().Len() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return srv.engine.Combiner().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOutputStream(t *testing.T) {
	srv, ts := newTestServer(t, config.Default())
	conn := dial(t, ts, "/ws/output", nil)

	outputs := make(chan protocol.ClientOutput, 16)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(outputs)
				return
			}
			if out, err := protocol.DecodeOutput(data); err == nil {
				outputs <- out
			}
		}
	}()

	ch := srv.engine.Combiner().Channel("local")
	deadline := time.After(2 * time.Second)
	for {
		ch.MouseMoveRelative(3, 4, false, true)
		_, err := srv.engine.Tick()
		require.NoError(t, err)

		select {
		case out, ok := <-outputs:
			require.True(t, ok, "output stream closed")
			if out.DX == 3 {
				require.Equal(t, int32(4), out.DY)
				require.True(t, out.RB)
				return
			}
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("no output received")
		}
	}
}

func TestToggleAndStatus(t *testing.T) {
	_, ts := newTestServer(t, config.Default())

	resp, err := http.Get(ts.URL + "/toggle")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/toggle", "application/json", nil)
	require.NoError(t, err)
	var toggled toggleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&toggled))
	resp.Body.Close()
	require.False(t, toggled.Enabled)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.False(t, status.Enabled)
	require.Equal(t, "0s", status.Interval)
}

func TestStaticTokenAuth(t *testing.T) {
	cfg := config.Default()
	cfg.AuthToken = "letmein"
	_, ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/status?token=letmein")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJWTSubjectAliasesConnections(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "hunter2"
	srv, ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong", "alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, "hunter2", "alice"))
	first := dial(t, ts, "/ws/input", header)
	second := dial(t, ts, "/ws/input", header)

	require.Eventually(t, func() bool { return srv.sessions.Count() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"alice"}, srv.engine.Combiner().Clients())

	first.Close()
	require.Eventually(t, func() bool { return srv.sessions.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"alice"}, srv.engine.Combiner().Clients())

	second.Close()
	require.Eventually(t, func() bool { return srv.engine.Combiner().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessionHub(t *testing.T) {
	c := combiner.New()
	hub := newSessionHub(c)

	hub.Join("a")
	hub.Join("a")
	hub.Join("b")
	require.Equal(t, 3, hub.Count())

	require.False(t, hub.Leave("a"))
	require.True(t, hub.Leave("a"))
	require.False(t, hub.Leave("a"))
	require.Equal(t, []string{"b"}, c.Clients())
}

func TestReloadKeepsToggle(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	level := new(slog.LevelVar)

	enabled, err := srv.engine.Toggle()
	require.NoError(t, err)
	require.False(t, enabled)

	next := config.Default()
	next.LogLevel = "debug"
	srv.applyConfig(next, level)

	status, err := srv.engine.Status()
	require.NoError(t, err)
	require.False(t, status.Enabled, "unrelated reload must not re-enable input")
	require.Equal(t, slog.LevelDebug, level.Level())

	next.InjectEnabled = false
	srv.applyConfig(next, level)
	next.InjectEnabled = true
	srv.applyConfig(next, level)
	status, err = srv.engine.Status()
	require.NoError(t, err)
	require.True(t, status.Enabled, "changing inject_enabled in the file applies it")
}

func TestReloadRetimesOnlyOnChange(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	level := new(slog.LevelVar)

	require.NoError(t, srv.engine.SetInterval(time.Hour))
	srv.applyConfig(config.Default(), level)
	status, err := srv.engine.Status()
	require.NoError(t, err)
	require.Equal(t, time.Hour, status.Interval)

	next := config.Default()
	next.TickInterval = 250 * time.Millisecond
	srv.applyConfig(next, level)
	status, err = srv.engine.Status()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, status.Interval)
}
