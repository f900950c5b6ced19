package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/storyforge/internal/config"
	"github.com/scrypster/storyforge/internal/events"
	"github.com/scrypster/storyforge/internal/registry"
	"github.com/scrypster/storyforge/internal/usage"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 256
	writeTimeout    = 10 * time.Second
	maxFrameBytes   = 64 << 10
)

// Orchestrator performs the story actions behind validated events. The
// returned reply, when non-nil, is sent back to the caller under the same
// event name.
type Orchestrator interface {
	HandleEvent(ctx context.Context, ev events.Event) (any, error)
}

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is a frame addressed to one session room.
type outbound struct {
	sessionID string
	data      []byte
}

// Hub manages socket connections grouped into session rooms. Usage
// snapshots and generation progress are forwarded only to the room of the
// session they belong to.
type Hub struct {
	cfg    config.ServerConfig
	reg    *registry.Registry
	ledger *usage.Ledger
	orch   Orchestrator
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*Client]bool
	rooms   map[string]*room

	broadcast   chan outbound
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// room is the set of clients in one session plus its ledger subscription.
type room struct {
	clients map[*Client]bool
	stop    func()
}

// Client is one socket connection. conn is nil for clients registered
// directly in tests.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send      chan []byte
	limiter   *rate.Limiter
	sessionID string
}

// NewHub creates a hub. reg, ledger and orch may be nil; the matching
// forwarding or event handling is then skipped.
func NewHub(cfg config.ServerConfig, reg *registry.Registry, ledger *usage.Ledger, orch Orchestrator, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventsPerSec <= 0 {
		cfg.EventsPerSec = 10
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:       cfg,
		reg:       reg,
		ledger:    ledger,
		orch:      orch,
		logger:    logger.Named("hub"),
		clients:   make(map[*Client]bool),
		rooms:     make(map[string]*room),
		broadcast: make(chan outbound, broadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	if reg != nil {
		h.unsubscribe = reg.SubscribeProgress(func(p registry.Progress) {
			h.SendToSession(p.SessionID, events.GenerationProgress, p)
		})
	}
	return h
}

// NewClient creates a client without a connection. Its frames are read
// from the returned channel.
func (h *Hub) NewClient() *Client {
	return h.newClient(nil)
}

func (h *Hub) newClient(conn *websocket.Conn) *Client { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	return &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.EventsPerSec), h.cfg.EventBurst),
	}
}

// Frames returns the client's outbound queue. It is closed when the
// client is unregistered.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// SessionID returns the session the client has joined, if any.
func (c *Client) SessionID() string {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.sessionID
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// Run delivers queued room messages until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			if r, ok := h.rooms[msg.sessionID]; ok {
				for c := range r.clients {
					h.deliverLocked(c, msg.data)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.logger.Info("hub stopping")
			return
		}
	}
}

// Stop disconnects every client and waits for the room forwarders to
// exit.
func (h *Hub) Stop() {
	h.cancel()
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	var stops []func()
	for c := range h.clients {
		stops = append(stops, h.removeLocked(c)...)
		c.close()
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	h.wg.Wait()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.Int("clients", count))
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Unregister removes a client and closes its queue. It is safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	stops := h.removeLocked(c)
	count := len(h.clients)
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	h.logger.Debug("client disconnected", zap.Int("clients", count))
}

// removeLocked drops c from the hub and returns the ledger
// unsubscriber of its room when the room became empty.
func (h *Hub) removeLocked(c *Client) []func() {
	if !h.clients[c] {
		return nil
	}
	delete(h.clients, c)
	close(c.send)
	if stop := h.leaveLocked(c); stop != nil {
		return []func(){stop}
	}
	return nil
}

// Join moves c into the room for sessionID, leaving any previous room.
func (h *Hub) Join(c *Client, sessionID string) {
	h.mu.Lock()
	if !h.clients[c] || c.sessionID == sessionID {
		h.mu.Unlock()
		return
	}
	stop := h.leaveLocked(c)
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{clients: make(map[*Client]bool)}
		h.rooms[sessionID] = r
		if h.ledger != nil {
			r.stop = h.forwardUsage(sessionID)
		}
	}
	r.clients[c] = true
	c.sessionID = sessionID
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	h.logger.Debug("client joined session", zap.String("session_id", sessionID))
}

// Leave removes c from its session room, ending the room's usage
// subscription when c was the last member.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	stop := h.leaveLocked(c)
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (h *Hub) leaveLocked(c *Client) func() {
	if c.sessionID == "" {
		return nil
	}
	id := c.sessionID
	c.sessionID = ""
	r, ok := h.rooms[id]
	if !ok {
		return nil
	}
	delete(r.clients, c)
	if len(r.clients) > 0 {
		return nil
	}
	delete(h.rooms, id)
	return r.stop
}

// forwardUsage subscribes to the ledger for sessionID and relays every
// snapshot to the room. The returned func ends the subscription.
func (h *Hub) forwardUsage(sessionID string) func() {
	ch, unsubscribe := h.ledger.Subscribe(sessionID)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for snap := range ch {
			h.SendToSession(sessionID, events.UsageUpdate, snap)
		}
	}()
	return unsubscribe
}

// SendToSession queues a frame for every client in the session's room.
// It never blocks; when the queue is full the frame is dropped.
func (h *Hub) SendToSession(sessionID, event string, data any) {
	b, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("failed to marshal frame", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: b}:
	default:
		h.logger.Warn("broadcast queue full, dropping frame", zap.String("event", event), zap.String("session_id", sessionID))
	}
}

// reply sends a frame to one client.
func (h *Hub) reply(c *Client, event string, data any) {
	b, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("failed to marshal frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.Lock()
	h.deliverLocked(c, b)
	h.mu.Unlock()
}

func (h *Hub) replyErrors(c *Client, errs ...string) {
	h.reply(c, events.Error, events.Validation{Valid: false, Errors: errs})
}

// deliverLocked hands data to c, disconnecting it when its queue is full.
func (h *Hub) deliverLocked(c *Client, data []byte) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("client queue full, disconnecting", zap.String("session_id", c.sessionID))
		if stop := h.leaveLocked(c); stop != nil {
			stop()
		}
		delete(h.clients, c)
		close(c.send)
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Dispatch handles one inbound frame from c: it throttles, validates,
// joins the session room and hands the event to the orchestrator.
func (h *Hub) Dispatch(ctx context.Context, c *Client, msg []byte) {
	if !c.limiter.Allow() {
		h.replyErrors(c, "rate limit exceeded")
		return
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
		h.replyErrors(c, "frame must be a JSON object with an event name")
		return
	}

	v := events.Validate(f.Event, f.Data)
	if !v.Valid {
		h.logger.Debug("rejected event", zap.String("event", f.Event), zap.Strings("errors", v.Errors))
		h.replyErrors(c, v.Errors...)
		return
	}
	ev := *v.Event

	// Join before handling so frames pushed while the event runs reach the
	// client; a rejected event puts the client back where it was.
	prev := c.SessionID()
	h.Join(c, ev.SessionID)
	if h.orch == nil {
		h.touch(ev.SessionID)
		return
	}

	out, err := h.orch.HandleEvent(ctx, ev)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("event failed", zap.String("event", ev.Name), zap.String("session_id", ev.SessionID), zap.Error(err))
		}
		if prev != ev.SessionID {
			if prev == "" {
				h.Leave(c)
			} else {
				h.Join(c, prev)
			}
		}
		h.replyErrors(c, err.Error())
		return
	}
	if ev.Name == events.EndSession {
		h.Leave(c)
	} else {
		h.touch(ev.SessionID)
	}
	if out != nil {
		h.reply(c, ev.Name, out)
	}
}

func (h *Hub) touch(sessionID string) {
	if h.reg != nil {
		h.reg.TouchSession(sessionID)
	}
}

// ServeHTTP handles websocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c := h.newClient(conn)
	h.Register(c)

	go c.writePump()
	go c.readPump()
}

// writePump sends queued frames to the connection.
func (c *Client) writePump() {
	defer c.close()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(c.hub.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readPump dispatches inbound frames until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	for {
		typ, msg, err := c.conn.Read(c.hub.ctx) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			c.hub.replyErrors(c, "binary frames are not supported")
			continue
		}
		c.hub.Dispatch(c.hub.ctx, c, msg)
	}
}
