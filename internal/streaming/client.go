package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/types"
)

// Client is one connected streaming client: a websocket connection plus
// its subscription, auth state, and the per-client queue/rate-limit pair
// that give it independent backpressure (§4.7).
type Client struct {
	id   string
	conn *websocket.Conn
	log  *zap.Logger

	outbound *outboundQueue
	inbound  *fixedWindow

	mu            sync.Mutex
	sub           types.Subscription
	authenticated bool
	lastPong      time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, outbound *outboundQueue, inbound *fixedWindow, log *zap.Logger) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		log:      log,
		outbound: outbound,
		inbound:  inbound,
		lastPong: time.Now(),
		done:     make(chan struct{}),
	}
}

func (c *Client) subscription() types.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *Client) setSubscription(sub types.Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

func (c *Client) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *Client) staleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastPong)
}

// sendRaw enqueues a pre-encoded envelope for delivery by the writer loop.
func (c *Client) sendRaw(data []byte, severity types.Severity) bool {
	return c.outbound.push(data, severity)
}

func (c *Client) send(typ string, payload any, severity types.Severity) error {
	data, err := marshalEnvelope(typ, payload)
	if err != nil {
		return err
	}
	c.sendRaw(data, severity)
	return nil
}

func (c *Client) sendError(code, message string) {
	_ = c.send(MsgError, errorPayload{Code: code, Message: message}, types.SeverityHigh)
}

// writeLoop drains the outbound queue and writes frames to the socket. One
// writer per connection, matching the teacher's single-writer-goroutine
// rule for gorilla/websocket connections (concurrent writes are unsafe).
func (c *Client) writeLoop() {
	for {
		data, ok := c.outbound.pop()
		if !ok {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Debug("client write failed", zap.String("client_id", c.id), zap.Error(err))
			return
		}
	}
}

// readLoop decodes inbound control envelopes and dispatches them to the
// server, until the socket closes or the client exceeds its rate limit.
func (c *Client) readLoop(dispatch func(*Client, envelope)) {
	defer close(c.done)
	c.conn.SetPongHandler(func(string) error {
		c.touchPong()
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.inbound.Allow(len(data)) {
			c.sendError("rate_limit_exceeded", "too many messages in current window")
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("bad_request", "malformed message envelope")
			continue
		}
		dispatch(c, env)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.outbound.close()
		_ = c.conn.Close()
	})
}
