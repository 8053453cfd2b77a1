package bots

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crowdplay/combiner"
	"crowdplay/protocol"
)

const writeWait = 5 * time.Second

// WSClient sends input frames to a server's /ws/input endpoint, at most one
// per throttle tick.
type WSClient struct {
	id       string
	conn     *websocket.Conn
	throttle <-chan time.Time
	mu       sync.Mutex
}

// DialWS connects to url. A non-empty token is sent as a bearer token.
func DialWS(ctx context.Context, url, token string, throttle <-chan time.Time) (*WSClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("bots: dial %s: %w", url, err)
	}
	return &WSClient{id: uuid.NewString(), conn: conn, throttle: throttle}, nil
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) MouseMove(ctx context.Context, dx, dy int32, left, right bool) error {
	return c.send(ctx, protocol.ClientInput{Type: protocol.TypeMouse, DX: dx, DY: dy, Btns: protocol.Buttons(left, right)})
}

func (c *WSClient) KeyDown(ctx context.Context, code string) error {
	return c.send(ctx, protocol.ClientInput{Type: protocol.TypeKeyDown, Code: code})
}

func (c *WSClient) KeyUp(ctx context.Context, code string) error {
	return c.send(ctx, protocol.ClientInput{Type: protocol.TypeKeyUp, Code: code})
}

// Close sends a close frame and drops the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

func (c *WSClient) send(ctx context.Context, in protocol.ClientInput) error {
	if err := waitThrottle(ctx, c.throttle); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(in)
}

// LocalClient feeds a combiner channel in-process, translating browser key
// codes the same way the server does.
type LocalClient struct {
	ch       *combiner.Channel
	throttle <-chan time.Time
}

func NewLocalClient(ch *combiner.Channel, throttle <-chan time.Time) *LocalClient {
	return &LocalClient{ch: ch, throttle: throttle}
}

func (c *LocalClient) ID() string {
	return c.ch.ID()
}

func (c *LocalClient) MouseMove(ctx context.Context, dx, dy int32, left, right bool) error {
	if err := waitThrottle(ctx, c.throttle); err != nil {
		return err
	}
	c.ch.MouseMoveRelative(dx, dy, left, right)
	return nil
}

func (c *LocalClient) KeyDown(ctx context.Context, code string) error {
	key, err := c.key(ctx, code)
	if err != nil {
		return err
	}
	c.ch.KeyDown(key)
	return nil
}

func (c *LocalClient) KeyUp(ctx context.Context, code string) error {
	key, err := c.key(ctx, code)
	if err != nil {
		return err
	}
	c.ch.KeyUp(key)
	return nil
}

func (c *LocalClient) Close() error {
	return nil
}

func (c *LocalClient) key(ctx context.Context, code string) (combiner.Key, error) {
	if err := waitThrottle(ctx, c.throttle); err != nil {
		return "", err
	}
	key, ok := protocol.TranslateKeyCode(code)
	if !ok {
		return "", fmt.Errorf("%w: %q", protocol.ErrUnsupportedKey, code)
	}
	return key, nil
}

func waitThrottle(ctx context.Context, throttle <-chan time.Time) error {
	if throttle == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-throttle:
		return nil
	}
}
