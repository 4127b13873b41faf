package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/gateway"
	"github.com/manpreetbhatti/canvas/internal/metrics"
	"github.com/manpreetbhatti/canvas/internal/protocol"
	"github.com/manpreetbhatti/canvas/internal/ratelimit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrSlowConsumer = errors.New("slow consumer")
	ErrClosed       = errors.New("connection closed")
)

// Gateway is the part of the event loop a socket talks to
type Gateway interface {
	Register(c gateway.Conn) bool
	Unregister(c gateway.Conn)
	Deliver(c gateway.Conn, frame []byte)
}

type Config struct {
	MaxMessageSize int64
	SendBuffer     int
	Preview        ratelimit.Rule
	Commit         ratelimit.Rule
	// Rate limit violations tolerated before the socket is closed. Zero
	// never disconnects.
	MaxViolations int
}

func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 1024 * 1024,
		SendBuffer:     512,
		Preview:        ratelimit.Rule{PerSecond: 120, Burst: 240},
		Commit:         ratelimit.Rule{PerSecond: 20, Burst: 40},
		MaxViolations:  1000,
	}
}

type Handler struct {
	gateway  Gateway
	log      *zap.Logger
	metrics  *metrics.Metrics
	cfg      Config
	upgrader websocket.Upgrader
}

func NewHandler(gw Gateway, log *zap.Logger, m *metrics.Metrics, cfg Config) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}
	return &Handler{
		gateway: gw,
		log:     log,
		metrics: m,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := newClient(conn, h.cfg)
	client.log = h.log.With(zap.String("conn", client.id))
	client.metrics = h.metrics

	if !h.gateway.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.gateway)
}

// Client is one browser socket
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limits  *ratelimit.Set
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	closed    chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, cfg Config) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, cfg.SendBuffer),
		limits: ratelimit.NewSet(map[ratelimit.Class]ratelimit.Rule{
			ratelimit.ClassPreview: cfg.Preview,
			ratelimit.ClassCommit:  cfg.Commit,
		}),
		cfg:    cfg,
		log:    zap.NewNop(),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. A full buffer closes the client.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.log.Warn("send buffer full, closing", zap.Int("buffer", cap(c.send)))
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which closes the socket and with it the read
// pump
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) readPump(gw Gateway) {
	defer func() {
		gw.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		class := classify(message)
		if !c.limits.Allow(class) {
			violations++
			c.metrics.Dropped("rate_limited")
			if violations%100 == 1 {
				c.log.Warn("rate limit exceeded",
					zap.String("class", string(class)),
					zap.Int("violations", violations),
				)
			}
			if c.cfg.MaxViolations > 0 && violations > c.cfg.MaxViolations {
				c.log.Warn("disconnecting for excessive rate limit violations", zap.Int("violations", violations))
				return
			}
			continue
		}

		gw.Deliver(c, message)
	}
}

// classify peeks at the event type. Frames that don't parse go through as
// commits and are rejected by the gateway.
func classify(frame []byte) ratelimit.Class {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &peek); err == nil && protocol.IsPreview(peek.Type) {
		return ratelimit.ClassPreview
	}
	return ratelimit.ClassCommit
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
