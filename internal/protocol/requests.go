package protocol

import (
	"math"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/canvas/internal/room"
)

// RoomRequest is the payload of join, undo, redo and clear
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type DrawPointRequest struct {
	RoomID  string         `json:"roomId"`
	Payload map[string]any `json:"payload"`
}

type pointInput struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type strokeInput struct {
	ID          string       `json:"id"`
	Tool        string       `json:"tool"`
	Color       string       `json:"color"`
	Size        *float64     `json:"size"`
	Points      []pointInput `json:"points"`
	CommittedAt int64        `json:"committedAt"`
	Timestamp   int64        `json:"timestamp"`
}

type StrokeRequest struct {
	RoomID string
	Stroke room.Stroke
}

type CursorRequest struct {
	RoomID string
	Cursor room.Point
}

// decode maps a loosely-typed JSON object onto a request record. Numbers sent
// as strings are accepted.
func decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "new decoder")
	}
	if err := dec.Decode(data); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

func roomOrDefault(id string) string {
	if id == "" {
		return room.DefaultID
	}
	return id
}

func ParseRoom(data map[string]any) (RoomRequest, error) {
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return RoomRequest{}, err
	}
	req.RoomID = roomOrDefault(req.RoomID)
	return req, nil
}

func ParseDrawPoint(data map[string]any) (DrawPointRequest, error) {
	var req DrawPointRequest
	if err := decode(data, &req); err != nil {
		return DrawPointRequest{}, err
	}
	if req.Payload == nil {
		return DrawPointRequest{}, errors.Wrap(ErrInvalid, "drawPoint payload must be an object")
	}
	req.RoomID = roomOrDefault(req.RoomID)
	return req, nil
}

func ParseCursor(data map[string]any) (CursorRequest, error) {
	var raw struct {
		RoomID string      `json:"roomId"`
		Cursor *pointInput `json:"cursor"`
	}
	if err := decode(data, &raw); err != nil {
		return CursorRequest{}, err
	}
	if raw.Cursor == nil {
		return CursorRequest{}, errors.Wrap(ErrInvalid, "cursor is required")
	}
	p, err := raw.Cursor.point()
	if err != nil {
		return CursorRequest{}, errors.Wrap(err, "cursor")
	}
	return CursorRequest{RoomID: roomOrDefault(raw.RoomID), Cursor: p}, nil
}

// ParseStroke validates a committed stroke. now stamps strokes that arrive
// without a commit time.
func ParseStroke(data map[string]any, now time.Time) (StrokeRequest, error) {
	var raw struct {
		RoomID string       `json:"roomId"`
		Stroke *strokeInput `json:"stroke"`
	}
	if err := decode(data, &raw); err != nil {
		return StrokeRequest{}, err
	}
	if raw.Stroke == nil {
		return StrokeRequest{}, errors.Wrap(ErrInvalid, "stroke is required")
	}
	s, err := raw.Stroke.validate(now)
	if err != nil {
		return StrokeRequest{}, err
	}
	return StrokeRequest{RoomID: roomOrDefault(raw.RoomID), Stroke: s}, nil
}

func (in *strokeInput) validate(now time.Time) (room.Stroke, error) {
	if in.ID == "" {
		return room.Stroke{}, errors.Wrap(ErrInvalid, "stroke id is required")
	}
	tool := room.Tool(in.Tool)
	if !tool.Valid() {
		return room.Stroke{}, errors.Wrapf(ErrInvalid, "unknown tool %q", in.Tool)
	}
	if in.Color == "" {
		return room.Stroke{}, errors.Wrap(ErrInvalid, "stroke color is required")
	}
	if in.Size == nil || !finite(*in.Size) || *in.Size <= 0 {
		return room.Stroke{}, errors.Wrap(ErrInvalid, "stroke size must be a positive number")
	}
	if len(in.Points) == 0 {
		return room.Stroke{}, errors.Wrap(ErrInvalid, "stroke has no points")
	}

	points := make([]room.Point, len(in.Points))
	for i, p := range in.Points {
		pt, err := p.point()
		if err != nil {
			return room.Stroke{}, errors.Wrapf(err, "point %d", i)
		}
		points[i] = pt
	}

	committedAt := in.CommittedAt
	if committedAt == 0 {
		committedAt = in.Timestamp
	}
	if committedAt == 0 {
		committedAt = now.UnixMilli()
	}

	return room.Stroke{
		ID:          in.ID,
		Tool:        tool,
		Color:       in.Color,
		Size:        *in.Size,
		Points:      points,
		CommittedAt: committedAt,
	}, nil
}

func (p pointInput) point() (room.Point, error) {
	if p.X == nil || p.Y == nil {
		return room.Point{}, errors.Wrap(ErrInvalid, "x and y are required")
	}
	if !finite(*p.X) || !finite(*p.Y) {
		return room.Point{}, errors.Wrap(ErrInvalid, "coordinates must be finite")
	}
	return room.Point{X: *p.X, Y: *p.Y}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
