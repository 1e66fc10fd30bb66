package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webrtc-rendezvous/pkg/presence"
	"webrtc-rendezvous/pkg/webrtc/protocol"
)

const (
	defaultReadLimit   = 64 * 1024
	pingInterval       = 40 * time.Second
	writeTimeout       = 10 * time.Second
	readTimeout        = 60 * time.Second
	presenceTimeout    = 3 * time.Second
	upgradeReadBuffer  = 1024
	upgradeWriteBuffer = 1024
	sendBufferSize     = 32
)

var (
	// ErrPeerNotConnected means no instance holds a socket for the target.
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrSendBufferFull   = errors.New("peer send buffer full")
	ErrDuplicateClient  = errors.New("duplicate client")
)

// MessageHandler is called for every "send" command of a registered client.
// origin is whatever HubOptions.Origin derived from the upgrade request.
// A returned error is reported back on the same socket.
type MessageHandler func(ctx context.Context, origin, roomID, clientID, msg string) error

// DisconnectHandler is called once a registered client's socket is gone.
type DisconnectHandler func(ctx context.Context, origin, roomID, clientID string)

// HubOptions configures a Hub instance.
type HubOptions struct {
	Logger   *zerolog.Logger
	Upgrader *websocket.Upgrader
	// Presence and PubSub enable delivery to peers connected to other
	// instances. Both nil means a single-instance hub.
	Presence   presence.Store
	PubSub     *redis.Client
	Prefix     string
	InstanceID string

	// Origin scopes a connection to the site it was opened from.
	Origin func(r *http.Request) string

	OnMessage    MessageHandler
	OnDisconnect DisconnectHandler
}

// ConnOptions controls how a connection is registered.
type ConnOptions struct {
	// Context lets the caller cancel the connection (defaults to Background).
	Context context.Context
	Origin  string
}

// Hub holds the signaling WebSockets of this instance, keyed by room and client.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*client
	presence      presence.Store
	pubsub        *redis.Client
	channelPrefix string
	instance      string
	upgrader      websocket.Upgrader
	logger        zerolog.Logger
	origin        func(r *http.Request) string
	onMessage     MessageHandler
	onDisconnect  DisconnectHandler
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	origin string

	// set once by register, read by the owning readPump afterwards
	roomID   string
	clientID string
}

// NewHub builds a signaling Hub with the provided options.
func NewHub(opts HubOptions) *Hub {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  upgradeReadBuffer,
		WriteBufferSize: upgradeWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(opts.Prefix), ":")
	if prefix == "" {
		prefix = "webrtc"
	}

	return &Hub{
		clients:       make(map[string]*client),
		presence:      opts.Presence,
		pubsub:        opts.PubSub,
		channelPrefix: prefix + ":signal:",
		instance:      opts.InstanceID,
		upgrader:      upgrader,
		logger:        logger.With().Str("component", "hub").Logger(),
		origin:        opts.Origin,
		onMessage:     opts.OnMessage,
		onDisconnect:  opts.OnDisconnect,
	}
}

func peerKey(roomID, clientID string) string {
	return roomID + "/" + clientID
}

// HTTPHandler upgrades HTTP connections and registers them with the Hub.
func (h *Hub) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("upgrade failed")
			return
		}
		var origin string
		if h.origin != nil {
			origin = h.origin(r)
		}
		// Use a background context so the connection isn't canceled when the HTTP handler returns.
		h.Accept(conn, ConnOptions{Origin: origin})
	})
}

// Accept starts serving an already-upgraded WebSocket connection. The client
// is not addressable until it sends a register command.
func (h *Hub) Accept(conn *websocket.Conn, opts ConnOptions) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		origin: opts.Origin,
	}
	go c.writePump()
	go c.readPump(h)
}

// Len returns the number of registered sockets on this instance.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connected reports whether the client holds a socket on this instance.
func (h *Hub) Connected(roomID, clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[peerKey(roomID, clientID)]
	return ok
}

// Send pushes msg to the client's socket, on this instance or, through Redis
// pub/sub, on the instance that holds it.
func (h *Hub) Send(ctx context.Context, roomID, from, to, msg string) error {
	key := peerKey(roomID, to)
	found, err := h.deliverLocal(key, msg)
	if found {
		return err
	}
	if h.presence == nil || h.pubsub == nil {
		return ErrPeerNotConnected
	}

	owner, err := h.presence.Locate(ctx, key)
	if errors.Is(err, presence.ErrNotFound) || (err == nil && owner == h.instance) {
		return ErrPeerNotConnected
	}
	if err != nil {
		return fmt.Errorf("locate peer: %w", err)
	}

	env, err := json.Marshal(protocol.Envelope{RoomID: roomID, From: from, To: to, Msg: msg})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	n, err := h.pubsub.Publish(ctx, h.channelPrefix+owner, env).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", owner, err)
	}
	if n == 0 {
		return ErrPeerNotConnected
	}
	return nil
}

// Run relays messages published for this instance until ctx is done. It
// returns immediately when cross-instance delivery is disabled.
func (h *Hub) Run(ctx context.Context) error {
	if h.pubsub == nil {
		return nil
	}
	if h.presence != nil {
		rctx, cancel := context.WithTimeout(ctx, presenceTimeout)
		if err := h.presence.Reset(rctx); err != nil {
			h.logger.Warn().Err(err).Msg("presence reset failed")
		}
		cancel()
	}

	sub := h.pubsub.Subscribe(ctx, h.channelPrefix+h.instance)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	h.logger.Info().Str("instance", h.instance).Msg("listening for relayed messages")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env protocol.Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				h.logger.Warn().Err(err).Msg("bad relay envelope")
				continue
			}
			if _, err := h.deliverLocal(peerKey(env.RoomID, env.To), env.Msg); err != nil {
				h.logger.Warn().Err(err).Str("room", env.RoomID).Str("to", env.To).Msg("relayed delivery failed")
			}
		}
	}
}

func (h *Hub) deliverLocal(key, msg string) (bool, error) {
	data, err := json.Marshal(protocol.OutboundMessage{Msg: msg})
	if err != nil {
		return false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	target := h.clients[key]
	if target == nil {
		return false, nil
	}
	select {
	case target.send <- data:
		return true, nil
	default:
		return true, ErrSendBufferFull
	}
}

func (h *Hub) register(c *client, roomID, clientID string) error {
	key := peerKey(roomID, clientID)

	h.mu.Lock()
	if _, exists := h.clients[key]; exists {
		h.mu.Unlock()
		return ErrDuplicateClient
	}
	h.clients[key] = c
	c.roomID, c.clientID = roomID, clientID
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(c.ctx, presenceTimeout)
		defer cancel()
		if err := h.presence.AddPeer(ctx, key); err != nil {
			h.logger.Warn().Err(err).Str("peer", key).Msg("presence add failed")
		}
	}
	h.logger.Info().Str("room", roomID).Str("client", clientID).Msg("ws: registered")
	return nil
}

func (h *Hub) unregister(c *client) {
	if c.clientID == "" {
		return
	}
	key := peerKey(c.roomID, c.clientID)

	h.mu.Lock()
	if h.clients[key] == c {
		delete(h.clients, key)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if h.presence != nil {
		if err := h.presence.RemovePeer(ctx, key); err != nil {
			h.logger.Warn().Err(err).Str("peer", key).Msg("presence remove failed")
		}
	}
	h.logger.Info().Str("room", c.roomID).Str("client", c.clientID).Msg("ws: unregistered")

	if h.onDisconnect != nil {
		h.onDisconnect(ctx, c.origin, c.roomID, c.clientID)
	}
}

func (h *Hub) handleInbound(c *client, msg protocol.InboundMessage) {
	switch msg.Cmd {
	case protocol.CmdRegister:
		if c.clientID != "" {
			c.sendError("Duplicate register request")
			return
		}
		roomID, clientID := strings.TrimSpace(msg.RoomID), strings.TrimSpace(msg.ClientID)
		if roomID == "" || clientID == "" {
			c.sendError("Invalid register request: missing 'clientid' or 'roomid'")
			return
		}
		if err := h.register(c, roomID, clientID); err != nil {
			c.sendError(err.Error())
		}
	case protocol.CmdSend:
		if c.clientID == "" {
			c.sendError("Client not registered")
			return
		}
		if h.onMessage == nil {
			return
		}
		if err := h.onMessage(c.ctx, c.origin, c.roomID, c.clientID, msg.Msg); err != nil {
			c.sendError(err.Error())
		}
	default:
		h.logger.Debug().Str("cmd", msg.Cmd).Msg("unknown command")
		c.sendError("Invalid message: unexpected 'cmd'")
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		close(c.send)
		c.cancel()
	}()

	c.conn.SetReadLimit(defaultReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return
			}
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug().Err(err).Str("client", c.clientID).Msg("read error")
			}
			return
		}

		var msg protocol.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("Invalid message: " + err.Error())
			continue
		}
		h.handleInbound(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) sendError(text string) {
	data, err := json.Marshal(protocol.OutboundMessage{Error: text})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
