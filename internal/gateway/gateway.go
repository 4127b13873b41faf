package gateway

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/db"
	"github.com/manpreetbhatti/canvas/internal/metrics"
	"github.com/manpreetbhatti/canvas/internal/protocol"
	"github.com/manpreetbhatti/canvas/internal/room"
)

const tracerName = "github.com/manpreetbhatti/canvas/internal/gateway"

// Conn is one live client session as the gateway sees it. Send must not
// block; a connection that cannot keep up should fail the send and close
// itself.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// Handler reacts to one inbound event. Returning an error drops the event:
// nothing is broadcast and the failure is logged and counted.
type Handler func(ctx context.Context, c Conn, data map[string]any) error

// Recorder receives an activity entry for every history change and
// membership change. Record must not block.
type Recorder interface {
	Record(a db.Activity)
}

type message struct {
	conn  Conn
	frame []byte
}

type session struct {
	conn  Conn
	rooms map[string]struct{}
}

func (s *session) joined() []string {
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Gateway routes client events to room state and fans the results out.
// Every connect, message and disconnect is handled to completion on the
// Run goroutine before the next one starts, so a room's history order is
// exactly the order its events arrive here.
type Gateway struct {
	store    *room.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	journal  Recorder
	tracer   trace.Tracer
	now      func() time.Time
	handlers map[string]Handler

	// owned by the Run goroutine
	sessions map[string]*session

	connections atomic.Int64

	register   chan Conn
	unregister chan Conn
	inbound    chan message
	tasks      chan func()
	done       chan struct{}
	doneOnce   sync.Once
}

type Option func(*Gateway)

func WithLogger(log *zap.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.journal = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(store *room.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:      store,
		log:        zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		handlers:   make(map[string]Handler),
		sessions:   make(map[string]*session),
		register:   make(chan Conn),
		unregister: make(chan Conn),
		inbound:    make(chan message),
		tasks:      make(chan func()),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.Subscribe(protocol.EventJoin, g.handleJoin)
	g.Subscribe(protocol.EventDrawPoint, g.handleDrawPoint)
	g.Subscribe(protocol.EventStroke, g.handleStroke)
	g.Subscribe(protocol.EventCursor, g.handleCursor)
	g.Subscribe(protocol.EventUndo, g.handleUndo)
	g.Subscribe(protocol.EventRedo, g.handleRedo)
	g.Subscribe(protocol.EventClear, g.handleClear)
	return g
}

// Subscribe installs the handler for an inbound event, replacing any
// existing one. Call before Run.
func (g *Gateway) Subscribe(event string, h Handler) {
	g.handlers[event] = h
}

func (g *Gateway) Store() *room.Store {
	return g.store
}

// Connections is the number of currently connected sessions
func (g *Gateway) Connections() int {
	return int(g.connections.Load())
}

// Run processes events until ctx is cancelled
func (g *Gateway) Run(ctx context.Context) {
	defer g.doneOnce.Do(func() { close(g.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-g.register:
			g.connect(ctx, c)
		case c := <-g.unregister:
			g.disconnect(ctx, c)
		case m := <-g.inbound:
			g.dispatch(ctx, m.conn, m.frame)
		case task := <-g.tasks:
			task()
		}
	}
}

// Register queues a new connection. It returns false once the gateway has
// stopped.
func (g *Gateway) Register(c Conn) bool {
	select {
	case g.register <- c:
		return true
	case <-g.done:
		return false
	}
}

func (g *Gateway) Unregister(c Conn) {
	select {
	case g.unregister <- c:
	case <-g.done:
	}
}

// Deliver hands one inbound frame from c to the loop. It returns once the
// loop has taken the frame, so frames from one caller keep their order
// relative to that caller's Unregister.
func (g *Gateway) Deliver(c Conn, frame []byte) {
	select {
	case g.inbound <- message{conn: c, frame: frame}:
	case <-g.done:
	}
}

// EvictIdle drops the history of empty rooms idle for longer than ttl. It
// runs on the gateway goroutine so it cannot race a join.
func (g *Gateway) EvictIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	result := make(chan []string, 1)
	task := func() {
		evicted := g.store.EvictIdle(ttl, g.now())
		g.metrics.Evicted(len(evicted))
		g.metrics.SetRooms(g.store.Len())
		result <- evicted
	}

	select {
	case g.tasks <- task:
	case <-g.done:
		return nil, errors.New("gateway stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-result, nil
}

func (g *Gateway) connect(_ context.Context, c Conn) {
	g.sessions[c.ID()] = &session{conn: c, rooms: make(map[string]struct{})}
	n := g.connections.Add(1)
	g.metrics.SetConnections(int(n))
	g.log.Debug("connection opened", zap.String("conn", c.ID()), zap.Int64("total", n))

	g.send(c, protocol.EventConnected, protocol.Connected{ID: c.ID()})
}

// disconnect removes c from every room it joined and tells those rooms the
// new head count
func (g *Gateway) disconnect(_ context.Context, c Conn) {
	s, ok := g.sessions[c.ID()]
	if !ok {
		return
	}
	delete(g.sessions, c.ID())
	n := g.connections.Add(-1)
	g.metrics.SetConnections(int(n))

	members := g.store.Members()
	for _, roomID := range s.joined() {
		members.Leave(roomID, c.ID())
		count := members.Count(roomID)
		g.broadcast(roomID, protocol.EventUserCount, protocol.UserCount{Count: count}, "")
		g.record(db.Activity{RoomID: roomID, Kind: db.KindLeave, ConnID: c.ID(), Members: count})

		if count == 0 {
			g.log.Info("room empty", zap.String("room", roomID))
		} else {
			g.log.Info("client left room", zap.String("room", roomID), zap.Int("remaining", count))
		}
	}
	g.log.Debug("connection closed", zap.String("conn", c.ID()), zap.Int64("total", n))
}

func (g *Gateway) dispatch(ctx context.Context, c Conn, frame []byte) {
	start := time.Now()

	if _, ok := g.sessions[c.ID()]; !ok {
		g.log.Debug("message from unknown connection", zap.String("conn", c.ID()))
		return
	}

	in, err := protocol.Decode(frame)
	if err != nil {
		g.drop(c, "", err)
		return
	}

	h, ok := g.handlers[in.Type]
	if !ok {
		g.drop(c, in.Type, errors.Wrap(protocol.ErrUnknownEvent, in.Type))
		return
	}

	ctx, span := g.tracer.Start(ctx, "canvas."+in.Type,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("canvas.event", in.Type),
			attribute.String("canvas.conn_id", c.ID()),
		),
	)
	defer span.End()

	if err := g.invoke(ctx, h, c, in.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.drop(c, in.Type, err)
		return
	}
	span.SetStatus(codes.Ok, "")

	g.metrics.Event(in.Type, time.Since(start).Seconds())
	g.metrics.SetRooms(g.store.Len())
}

// invoke runs a handler, turning a panic into an error so one bad message
// cannot take the loop down
func (g *Gateway) invoke(ctx context.Context, h Handler, c Conn, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, c, data)
}

func (g *Gateway) drop(c Conn, event string, err error) {
	reason := dropReason(err)
	g.metrics.Dropped(reason)
	g.log.Warn("dropped message",
		zap.String("conn", c.ID()),
		zap.String("event", event),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, protocol.ErrInvalid):
		return "invalid"
	default:
		return "internal"
	}
}

func (g *Gateway) send(c Conn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		g.log.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	g.deliver(c, event, frame)
	g.metrics.FramesSent(event, 1)
}

// broadcast sends to every member of roomID except the connection with id
// except. An empty except reaches the whole room.
func (g *Gateway) broadcast(roomID, event string, payload any, except string) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		g.log.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	sent := 0
	for _, id := range g.store.Members().Members(roomID) {
		if id == except {
			continue
		}
		s, ok := g.sessions[id]
		if !ok {
			continue
		}
		g.deliver(s.conn, event, frame)
		sent++
	}
	g.metrics.FramesSent(event, sent)
}

func (g *Gateway) deliver(c Conn, event string, frame []byte) {
	if err := c.Send(frame); err != nil {
		g.log.Warn("send failed",
			zap.String("conn", c.ID()),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (g *Gateway) record(a db.Activity) {
	if g.journal == nil {
		return
	}
	if a.At.IsZero() {
		a.At = g.now()
	}
	g.journal.Record(a)
}
