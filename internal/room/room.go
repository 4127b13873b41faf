package room

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Room that every message without a roomId lands in
const DefaultID = "default"

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

func (t Tool) Valid() bool {
	return t == ToolBrush || t == ToolEraser
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A committed drawing operation. Never mutated once it enters a Log.
type Stroke struct {
	ID          string  `json:"id"`
	Tool        Tool    `json:"tool"`
	Color       string  `json:"color"`
	Size        float64 `json:"size"`
	Points      []Point `json:"points"`
	CommittedAt int64   `json:"committedAt"`
}

// The authoritative per-room history: committed strokes plus the redo stack
type Log struct {
	ops          []Stroke
	redo         []Stroke
	lastActivity time.Time
	mu           sync.RWMutex
}

func NewLog() *Log {
	return &Log{
		ops:          make([]Stroke, 0),
		redo:         make([]Stroke, 0),
		lastActivity: time.Now(),
	}
}

// Adds a stroke at the end of the history and discards anything redoable
func (l *Log) Append(s Stroke) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.Points = clonePoints(s.Points)
	l.ops = append(l.ops, s)
	clear(l.redo)
	l.redo = l.redo[:0]
	l.lastActivity = time.Now()
}

// Moves the last committed stroke onto the redo stack
func (l *Log) Undo() (Stroke, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ops) == 0 {
		return Stroke{}, ErrNothingToUndo
	}
	last := l.ops[len(l.ops)-1]
	l.ops = l.ops[:len(l.ops)-1]
	l.redo = append(l.redo, last)
	l.lastActivity = time.Now()
	return last, nil
}

// Moves the top of the redo stack back onto the history. The rest of the
// stack stays intact.
func (l *Log) Redo() (Stroke, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.redo) == 0 {
		return Stroke{}, ErrNothingToRedo
	}
	top := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.ops = append(l.ops, top)
	l.lastActivity = time.Now()
	return top, nil
}

// Drops both the history and the redo stack
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = make([]Stroke, 0)
	l.redo = make([]Stroke, 0)
	l.lastActivity = time.Now()
}

// Returns a copy of the history in commit order
func (l *Log) Snapshot() []Stroke {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ops := make([]Stroke, len(l.ops))
	copy(ops, l.ops)
	return ops
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

func (l *Log) RedoDepth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.redo)
}

func (l *Log) LastActivity() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastActivity
}

func clonePoints(points []Point) []Point {
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	copy(out, points)
	return out
}
