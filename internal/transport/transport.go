// Package transport owns the one websocket connection a room membership is
// allowed: connect, keepalive, reconnect with bounded exponential backoff,
// teardown. Inbound frames are decoded into the {event, data} envelope and
// forwarded to a single registered handler; everything else about the
// payloads is someone else's business.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/partyround/roomsync/internal/types"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Handler receives every well-formed inbound event, in arrival order, from a
// single goroutine.
type Handler func(event string, data json.RawMessage)

type Options struct {
	KeepalivePeriod time.Duration // default 30s
	RetryBudget     int           // reconnect attempts before giving up, default 5
	BackoffBase     time.Duration // delay before attempt 1, default 1s
}

func (o Options) withDefaults() Options {
	if o.KeepalivePeriod <= 0 {
		o.KeepalivePeriod = 30 * time.Second
	}
	if o.RetryBudget == 0 {
		o.RetryBudget = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	return o
}

const writeTimeout = 3 * time.Second

type Client struct {
	log  *zap.Logger
	base *url.URL
	opts Options

	mu     sync.Mutex
	status Status
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    int // fences stale goroutines after Disconnect/re-Connect
}

// New builds a client for the given http(s) base URL; the websocket scheme is
// derived from it.
func New(baseURL string, opts Options, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{log: log, base: u, opts: opts.withDefaults()}, nil
}

// Connect opens (or re-opens) the connection for a room membership and
// registers h as the sole event sink. Safe to call again: a previous
// connection is torn down first and the retry budget starts fresh.
func (c *Client) Connect(roomCode, playerID, gameType string, h Handler) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.status = StatusConnecting
	c.mu.Unlock()

	go c.run(ctx, gen, c.wsURL(gameType, roomCode, playerID), h)
}

// Disconnect tears the connection down and cancels keepalive and any pending
// reconnect. Safe to call multiple times and from any state; after it
// returns, no scheduled reconnect can resurrect the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	if conn != nil {
		c.status = StatusClosing
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}

	c.mu.Lock()
	c.status = StatusDisconnected
	c.mu.Unlock()
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send marshals an envelope and writes it if the connection is open.
// Anything else is dropped silently: at-most-once, fire-and-forget. Callers
// needing the server's current state after a reconnect get it for free, since
// every (re)open issues get_state.
func (c *Client) Send(event string, data any) {
	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()
	if !open || conn == nil {
		c.log.Debug("send dropped, connection not open", zap.String("event", event))
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Warn("send dropped, unmarshalable payload", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := json.Marshal(types.Envelope{Event: event, Data: raw})
	if err != nil {
		c.log.Warn("send dropped", zap.String("event", event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		// The read loop will observe the broken connection and reconnect.
		c.log.Debug("write failed", zap.String("event", event), zap.Error(err))
	}
}

// RequestState asks the server for a fresh room_state push.
func (c *Client) RequestState() {
	c.Send(types.EventGetState, struct{}{})
}

// BackoffDelay is the wait before reconnect attempt n: base * 2^(n-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	return base << (attempt - 1)
}

func (c *Client) run(ctx context.Context, gen int, wsURL string, h Handler) {
	attempt := 0
	for {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err == nil {
			attempt = 0
			c.setOpen(gen, conn)
			// Never stale after a (re)connect.
			c.RequestState()
			c.serve(ctx, conn, h)
			c.clearConn(gen, conn)
		} else {
			c.log.Debug("dial failed", zap.Error(err))
		}

		if ctx.Err() != nil {
			c.setStatus(gen, StatusDisconnected)
			return
		}

		attempt++
		if attempt > c.opts.RetryBudget {
			c.log.Warn("reconnect budget exhausted, staying disconnected",
				zap.Int("attempts", attempt-1))
			c.setStatus(gen, StatusDisconnected)
			return
		}

		delay := BackoffDelay(c.opts.BackoffBase, attempt)
		c.log.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		c.setStatus(gen, StatusConnecting)

		select {
		case <-ctx.Done():
			c.setStatus(gen, StatusDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// serve pumps inbound frames to the handler and keeps the connection alive
// until it breaks or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, h Handler) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.keepalive(connCtx)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Info("connection closed", zap.Error(err))
			}
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn("dropping malformed frame", zap.ByteString("frame", data))
			continue
		}
		h(env.Event, env.Data)
	}
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(types.EventPing, struct{}{})
		}
	}
}

func (c *Client) wsURL(gameType, roomCode, playerID string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join(u.Path, "api", "games", gameType, "rooms", roomCode, "ws")
	q := u.Query()
	q.Set("player_id", playerID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) setOpen(gen int, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.conn = conn
	c.status = StatusOpen
}

func (c *Client) clearConn(gen int, conn *websocket.Conn) {
	_ = conn.CloseNow()
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
}

func (c *Client) setStatus(gen int, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.status = s
}
