package gateway

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/db"
	"github.com/manpreetbhatti/canvas/internal/protocol"
	"github.com/manpreetbhatti/canvas/internal/room"
)

func tagRoom(ctx context.Context, roomID string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("canvas.room_id", roomID))
}

func (g *Gateway) handleJoin(ctx context.Context, c Conn, data map[string]any) error {
	req, err := protocol.ParseRoom(data)
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	if s, ok := g.sessions[c.ID()]; ok {
		s.rooms[req.RoomID] = struct{}{}
	}
	members := g.store.Members()
	members.Join(req.RoomID, c.ID())
	count := members.Count(req.RoomID)

	g.broadcast(req.RoomID, protocol.EventUserCount, protocol.UserCount{Count: count}, "")
	g.send(c, protocol.EventFullRedraw, protocol.FullRedraw{Operations: g.store.Log(req.RoomID).Snapshot()})
	g.record(db.Activity{RoomID: req.RoomID, Kind: db.KindJoin, ConnID: c.ID(), Members: count})

	g.log.Info("client joined room", zap.String("room", req.RoomID), zap.String("conn", c.ID()), zap.Int("total", count))
	return nil
}

// Preview points are relayed to everyone else and never stored
func (g *Gateway) handleDrawPoint(ctx context.Context, c Conn, data map[string]any) error {
	req, err := protocol.ParseDrawPoint(data)
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	g.broadcast(req.RoomID, protocol.EventDrawPoint, protocol.DrawPointRelay{
		SenderID: c.ID(),
		Payload:  req.Payload,
	}, c.ID())
	return nil
}

// A committed stroke goes back to the sender too, replacing its preview
func (g *Gateway) handleStroke(ctx context.Context, c Conn, data map[string]any) error {
	req, err := protocol.ParseStroke(data, g.now())
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	l := g.store.Log(req.RoomID)
	l.Append(req.Stroke)

	g.broadcast(req.RoomID, protocol.EventStroke, protocol.StrokeCommitted{Stroke: req.Stroke}, "")
	g.record(db.Activity{
		RoomID:     req.RoomID,
		Kind:       db.KindStroke,
		ConnID:     c.ID(),
		StrokeID:   req.Stroke.ID,
		Operations: l.Len(),
	})
	return nil
}

func (g *Gateway) handleCursor(ctx context.Context, c Conn, data map[string]any) error {
	req, err := protocol.ParseCursor(data)
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	g.broadcast(req.RoomID, protocol.EventCursor, protocol.CursorRelay{
		SenderID: c.ID(),
		Cursor:   req.Cursor,
	}, c.ID())
	return nil
}

// Undo and redo always answer with a full snapshot, even when nothing
// changed
func (g *Gateway) handleUndo(ctx context.Context, c Conn, data map[string]any) error {
	return g.rewind(ctx, c, data, db.KindUndo, (*room.Log).Undo)
}

func (g *Gateway) handleRedo(ctx context.Context, c Conn, data map[string]any) error {
	return g.rewind(ctx, c, data, db.KindRedo, (*room.Log).Redo)
}

func (g *Gateway) rewind(ctx context.Context, c Conn, data map[string]any, kind string, op func(*room.Log) (room.Stroke, error)) error {
	req, err := protocol.ParseRoom(data)
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	l := g.store.Log(req.RoomID)
	moved, err := op(l)
	if err == nil {
		g.record(db.Activity{
			RoomID:     req.RoomID,
			Kind:       kind,
			ConnID:     c.ID(),
			StrokeID:   moved.ID,
			Operations: l.Len(),
		})
	} else {
		g.log.Debug("history unchanged", zap.String("room", req.RoomID), zap.String("kind", kind), zap.Error(err))
	}

	g.broadcast(req.RoomID, protocol.EventFullRedraw, protocol.FullRedraw{Operations: l.Snapshot()}, "")
	return nil
}

func (g *Gateway) handleClear(ctx context.Context, c Conn, data map[string]any) error {
	req, err := protocol.ParseRoom(data)
	if err != nil {
		return err
	}
	tagRoom(ctx, req.RoomID)

	l := g.store.Log(req.RoomID)
	l.Clear()

	g.broadcast(req.RoomID, protocol.EventFullRedraw, protocol.FullRedraw{Operations: l.Snapshot()}, "")
	g.record(db.Activity{RoomID: req.RoomID, Kind: db.KindClear, ConnID: c.ID()})
	g.log.Info("room cleared", zap.String("room", req.RoomID), zap.String("conn", c.ID()))
	return nil
}
