package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/types"
	"github.com/brennhill/tracebackbone/internal/util"
)

const serverVersion = "1.0.0"

var serverCapabilities = []string{"subscribe", "history", "time_travel", "breakpoints"}

// RateLimitOptions configures the per-client inbound fixed window (§6
// "streaming.rate_limit").
type RateLimitOptions struct {
	Window           time.Duration
	MaxMessages      int
	MaxBytesPerWindow int
}

// BackpressureOptions configures the per-client outbound queue (§6
// "streaming.backpressure").
type BackpressureOptions struct {
	MaxQueueSize int
	HighWater    int
	LowWater     int
	DropOldest   bool
}

// Options configures a new streaming Server (§6 "streaming").
type Options struct {
	MaxConnections      int
	HeartbeatInterval   time.Duration
	StaleTimeout        time.Duration
	MaxMessageSize      int64
	HistoricalDataLimit int
	Auth                AuthConfig
	RateLimit           RateLimitOptions
	Backpressure        BackpressureOptions
	Store               EventStore
	Logger              *zap.Logger
}

// Server is the streaming server (C7): accepts websocket connections,
// authenticates and subscribes clients, fans out live events flushed by
// the collector, and answers historical/time-travel queries (§4.7).
type Server struct {
	opts     Options
	store    EventStore
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = 60 * time.Second
	}
	if opts.RateLimit.Window <= 0 {
		opts.RateLimit.Window = 60 * time.Second
	}
	if opts.Backpressure.MaxQueueSize <= 0 {
		opts.Backpressure.MaxQueueSize = 1000
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		store:   opts.Store,
		log:     log,
		clients: make(map[string]*Client),
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	util.SafeGo(log, "streaming-heartbeat", s.heartbeatLoop)
	util.SafeGo(log, "streaming-stale-sweeper", s.staleSweepLoop)
	return s
}

// ServeHTTP upgrades the connection and runs the client's read/write
// loops until it disconnects (§4.7 "accept loop").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	full := s.opts.MaxConnections > 0 && len(s.clients) >= s.opts.MaxConnections
	s.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}

	id := uuid.NewString()
	outbound := newOutboundQueue(s.opts.Backpressure.MaxQueueSize, s.opts.Backpressure.HighWater, s.opts.Backpressure.LowWater, s.opts.Backpressure.DropOldest)
	inbound := newFixedWindow(s.opts.RateLimit.Window, s.opts.RateLimit.MaxMessages, s.opts.RateLimit.MaxBytesPerWindow)
	c := newClient(id, conn, outbound, inbound, s.log)
	if !s.opts.Auth.Enabled {
		c.setAuthenticated(true)
	}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	s.sendConnectionInfo(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	c.readLoop(s.dispatch)

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	c.close()
}

func (s *Server) sendConnectionInfo(c *Client) {
	_ = c.send(MsgConnection, connectionPayload{
		ClientID: c.id,
		ServerInfo: serverInfo{
			Version:      serverVersion,
			Capabilities: serverCapabilities,
			Limits: serverLimits{
				MaxMessageSize: int(s.opts.MaxMessageSize),
				BatchSize:      s.opts.HistoricalDataLimit,
			},
		},
	}, types.SeverityLow)
}

// dispatch routes one decoded inbound envelope to its handler (§6 client
// message types).
func (s *Server) dispatch(c *Client, env envelope) {
	if env.Type == MsgAuth {
		s.handleAuth(c, env)
		return
	}
	if s.opts.Auth.Enabled && !c.isAuthenticated() {
		c.sendError("unauthenticated", "auth required before any other message")
		return
	}
	switch env.Type {
	case MsgSubscribeSession:
		s.handleSubscribeSession(c, env)
	case MsgFilterAgents:
		s.handleFilterAgents(c, env)
	case MsgRequestHistory:
		s.handleRequestHistory(c, env)
	case MsgTimeTravel:
		s.handleTimeTravel(c, env)
	case MsgSetBreakpoint, MsgRemoveBreakpoint:
		// Breakpoints are acknowledged but evaluated by the caller that
		// owns trace execution; the streaming server only relays them.
	case MsgHeartbeat:
		// client liveness ping; pong handler already recorded it.
	default:
		c.sendError("unknown_message_type", "unrecognized message type: "+env.Type)
	}
}

func (s *Server) handleAuth(c *Client, env envelope) {
	var p authPayload
	_ = json.Unmarshal(env.Payload, &p)
	ok := s.opts.Auth.checkAPIKey(p.Token)
	c.setAuthenticated(ok)
	_ = c.send(MsgAuthResponse, authResponsePayload{Authenticated: ok}, types.SeverityLow)
}

func (s *Server) handleSubscribeSession(c *Client, env envelope) {
	var p subscribeSessionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError("bad_request", "malformed subscribe_session payload")
		return
	}
	sub := c.subscription()
	sub.ClientID = c.id
	sub.SessionIDs = []string{p.SessionID}
	c.setSubscription(sub)
}

func (s *Server) handleFilterAgents(c *Client, env envelope) {
	var p filterAgentsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError("bad_request", "malformed filter_agents payload")
		return
	}
	sub := c.subscription()
	sub.AgentIDs = p.AgentIDs
	c.setSubscription(sub)
}

func (s *Server) handleRequestHistory(c *Client, env envelope) {
	var p requestHistoryPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError("bad_request", "malformed request_history payload")
		return
	}
	sessionID := firstSessionID(c.subscription())
	if sessionID == "" {
		c.sendError("not_subscribed", "subscribe_session before requesting history")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.sendHistory(ctx, c, sessionID, p.TimeRange); err != nil {
		c.sendError("history_error", err.Error())
	}
}

func (s *Server) handleTimeTravel(c *Client, env envelope) {
	var p timeTravelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError("bad_request", "malformed time_travel payload")
		return
	}
	sessionID := firstSessionID(c.subscription())
	if sessionID == "" {
		c.sendError("not_subscribed", "subscribe_session before time travel")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.sendTimeTravel(ctx, c, sessionID, p.Timestamp); err != nil {
		c.sendError("history_error", err.Error())
	}
}

func firstSessionID(sub types.Subscription) string {
	if len(sub.SessionIDs) == 0 {
		return ""
	}
	return sub.SessionIDs[0]
}

// HandleFlushedBatch tees a flushed batch to every subscribed client. Wire
// this as the collector's Options.OnFlush to fan out live events (§4.4,
// §4.7).
func (s *Server) HandleFlushedBatch(batch []types.Event) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, e := range batch {
		data, err := marshalEnvelope(MsgTraceEvent, e)
		if err != nil {
			continue
		}
		for _, c := range clients {
			if !c.isAuthenticated() {
				continue
			}
			if !c.subscription().Matches(e) {
				continue
			}
			c.sendRaw(data, e.Metadata.Severity)
		}
	}
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.broadcastHeartbeat()
		}
	}
}

func (s *Server) broadcastHeartbeat() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		metrics := map[string]any{
			"queue_depth": c.outbound.droppedCount(),
			"blocked":     c.outbound.isBlocked(),
		}
		_ = c.send(MsgOutboundHeartbeat, heartbeatPayload{Timestamp: time.Now().UnixMilli(), Metrics: metrics}, types.SeverityLow)
		_ = c.conn.WriteMessage(websocket.PingMessage, nil)
	}
}

func (s *Server) staleSweepLoop() {
	ticker := time.NewTicker(s.opts.StaleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleClients()
		}
	}
}

func (s *Server) sweepStaleClients() {
	now := time.Now()
	s.mu.RLock()
	var stale []*Client
	for _, c := range s.clients {
		if c.staleSince(now) > s.opts.StaleTimeout {
			stale = append(stale, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range stale {
		s.log.Info("closing stale streaming client", zap.String("client_id", c.id))
		c.close()
	}
}

// Shutdown stops accepting new work and closes every connected client
// with a normal closure code (§5 "graceful shutdown").
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
