package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/manpreetbhatti/canvas/internal/room"
)

// Event names. These are shared with the browser client and must not change.
const (
	// server -> client
	EventConnected  = "connected"
	EventUserCount  = "userCount"
	EventFullRedraw = "fullRedraw"

	// client -> server
	EventJoin  = "join"
	EventUndo  = "undo"
	EventRedo  = "redo"
	EventClear = "clear"

	// both directions
	EventDrawPoint = "drawPoint"
	EventStroke    = "stroke"
	EventCursor    = "cursor"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalid      = errors.New("invalid payload")
)

// Preview events are ephemeral and never touch room history
func IsPreview(event string) bool {
	return event == EventDrawPoint || event == EventCursor
}

// Inbound is a decoded client frame. Data keeps the raw JSON object so each
// handler can decode the fields it cares about.
type Inbound struct {
	Type string
	Data map[string]any
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Decode parses a `{"type", "data"}` frame. A missing data object decodes
// as empty.
func Decode(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Inbound{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if env.Type == "" {
		return Inbound{}, errors.Wrap(ErrMalformed, "missing type")
	}

	data := make(map[string]any)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Inbound{}, errors.Wrapf(ErrMalformed, "data for %q is not an object", env.Type)
		}
	}
	return Inbound{Type: env.Type, Data: data}, nil
}

func Encode(event string, payload any) ([]byte, error) {
	frame, err := json.Marshal(outbound{Type: event, Data: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", event)
	}
	return frame, nil
}

// Outbound payloads

type Connected struct {
	ID string `json:"id"`
}

type UserCount struct {
	Count int `json:"count"`
}

type FullRedraw struct {
	Operations []room.Stroke `json:"operations"`
}

type StrokeCommitted struct {
	Stroke room.Stroke `json:"stroke"`
}

type DrawPointRelay struct {
	SenderID string         `json:"senderId"`
	Payload  map[string]any `json:"payload"`
}

type CursorRelay struct {
	SenderID string     `json:"senderId"`
	Cursor   room.Point `json:"cursor"`
}
