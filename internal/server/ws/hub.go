// Package ws relays signal-bus events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// defaultReplayLimit caps replayed stream entries per channel.
	defaultReplayLimit = 100
)

// DefaultChannels are the bus channels relayed to clients.
var DefaultChannels = []string{
	domain.ChannelTrades,
	domain.ChannelResolutions,
}

// upgrader configures the WebSocket upgrade parameters. Origins are checked
// by the CORS-aware server in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is one encoded event in both wire formats.
type frame struct {
	channel string
	binary  []byte // protobuf google.protobuf.Struct
	text    []byte // JSON
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	binary bool
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	Channels  []string
	StartedAt time.Time
	// ReplayLimit caps the stream entries replayed per channel to a client
	// reconnecting with ?since=<stream id>.
	ReplayLimit int
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the signal bus to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	channels   []string
	mode       string
	startedAt  time.Time
	replay     int
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub that bridges bus to connected WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	replay := cfg.ReplayLimit
	if replay <= 0 {
		replay = defaultReplayLimit
	}
	if ceiling := (sendBufferSize - 1) / len(channels); replay > ceiling {
		replay = ceiling
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channels:   channels,
		mode:       mode,
		startedAt:  startedAt,
		replay:     replay,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range h.channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("ws: subscribe %s: %w", ch, err)
		}
		h.logger.InfoContext(ctx, "ws: subscribed to channel", slog.String("channel", ch))
		go h.relay(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(f.channel) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("ws: dropping message for slow client",
						slog.String("channel", f.channel),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay encodes every bus message on channel and queues it for broadcast.
func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			f, err := encodeFrame(channel, data)
			if err != nil {
				h.logger.Warn("ws: dropping undecodable event",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame wraps a JSON bus payload as {"channel": ..., "payload": ...}
// and renders it as a protobuf Struct and as JSON.
func encodeFrame(channel string, payload []byte) (frame, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return frame{}, fmt.Errorf("decode payload: %w", err)
	}
	return newFrame(channel, map[string]any{"channel": channel, "payload": body})
}

// encodeReplayFrame is encodeFrame for a stream entry; the envelope carries
// the entry id so the client can resume after it.
func encodeReplayFrame(channel string, msg domain.StreamMessage) (frame, error) {
	var body map[string]any
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		return frame{}, fmt.Errorf("decode payload: %w", err)
	}
	return newFrame(channel, map[string]any{"channel": channel, "id": msg.ID, "payload": body})
}

func newFrame(channel string, envelope map[string]any) (frame, error) {
	st, err := structpb.NewStruct(envelope)
	if err != nil {
		return frame{}, fmt.Errorf("build struct: %w", err)
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, fmt.Errorf("marshal struct: %w", err)
	}
	text, err := json.Marshal(envelope)
	if err != nil {
		return frame{}, fmt.Errorf("marshal json: %w", err)
	}
	return frame{channel: channel, binary: bin, text: text}, nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Frames are protobuf-encoded
// google.protobuf.Struct values unless the client asks for ?format=json.
// With ?since=<stream id> the events recorded after that id are replayed
// ahead of live traffic.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		binary: r.URL.Query().Get("format") != "json",
		subs:   make(map[string]bool),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}

	// Queued before registration: once registered, Run owns c.send and may
	// close it at any time.
	c.sendStatus()
	if since := r.URL.Query().Get("since"); since != "" {
		h.replayTo(r.Context(), c, since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replayTo queues the stream entries after since on every hub channel.
// A failed read skips that channel.
func (h *Hub) replayTo(ctx context.Context, c *client, since string) {
	for _, ch := range h.channels {
		msgs, err := h.bus.StreamRead(ctx, ch, since, h.replay)
		if err != nil {
			h.logger.WarnContext(ctx, "ws: replay read failed",
				slog.String("channel", ch),
				slog.String("since", since),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, m := range msgs {
			f, err := encodeReplayFrame(ch, m)
			if err != nil {
				h.logger.WarnContext(ctx, "ws: dropping undecodable stream entry",
					slog.String("channel", ch),
					slog.String("id", m.ID),
				)
				continue
			}
			select {
			case c.send <- f:
			default:
				return
			}
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the client until it goes away.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && len(sub.Channels) > 0 {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus queues a hello frame so clients can mark the connection healthy
// before any event flows.
func (c *client) sendStatus() {
	channels := make([]any, len(c.hub.channels))
	for i, ch := range c.hub.channels {
		channels[i] = ch
	}
	f, err := newFrame("status", map[string]any{
		"channel": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"channels":       channels,
			"uptime_seconds": float64(int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
// A subscription ending in '*' matches by prefix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump writes queued frames and periodic pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			kind, data := websocket.BinaryMessage, f.binary
			if !c.binary {
				kind, data = websocket.TextMessage, f.text
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
