package room

import (
	"reflect"
	"sync"
	"testing"
)

func stroke(id string) Stroke {
	return Stroke{
		ID:     id,
		Tool:   ToolBrush,
		Color:  "#000",
		Size:   5,
		Points: []Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
	}
}

func ids(ops []Stroke) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestLogAppendKeepsCommitOrder(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))
	l.Append(stroke("s2"))
	l.Append(stroke("s3"))

	got := ids(l.Snapshot())
	want := []string{"s1", "s2", "s3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestLogUndoRedo(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))
	l.Append(stroke("s2"))

	undone, err := l.Undo()
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if undone.ID != "s2" {
		t.Errorf("Expected to undo s2, got %s", undone.ID)
	}
	if l.RedoDepth() != 1 {
		t.Errorf("Expected redo depth 1, got %d", l.RedoDepth())
	}

	redone, err := l.Redo()
	if err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if redone.ID != "s2" {
		t.Errorf("Expected to redo s2, got %s", redone.ID)
	}
	if got := ids(l.Snapshot()); !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Errorf("Unexpected history after redo: %v", got)
	}
}

func TestLogUndoThenRedoRestoresExactState(t *testing.T) {
	l := NewLog()
	for _, id := range []string{"a", "b", "c"} {
		l.Append(stroke(id))
	}
	l.Undo()

	before := l.Snapshot()
	beforeRedo := l.RedoDepth()

	if _, err := l.Undo(); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if _, err := l.Redo(); err != nil {
		t.Fatalf("Redo failed: %v", err)
	}

	if !reflect.DeepEqual(before, l.Snapshot()) {
		t.Errorf("Expected %v after undo+redo, got %v", ids(before), ids(l.Snapshot()))
	}
	if l.RedoDepth() != beforeRedo {
		t.Errorf("Expected redo depth %d, got %d", beforeRedo, l.RedoDepth())
	}
}

func TestLogRedoPreservesRestOfStack(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))
	l.Append(stroke("s2"))
	l.Append(stroke("s3"))
	l.Undo()
	l.Undo()

	if _, err := l.Redo(); err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if l.RedoDepth() != 1 {
		t.Errorf("Expected one entry left on the redo stack, got %d", l.RedoDepth())
	}
	redone, _ := l.Redo()
	if redone.ID != "s3" {
		t.Errorf("Expected s3 back last, got %s", redone.ID)
	}
}

func TestLogAppendClearsRedo(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))
	l.Append(stroke("s2"))
	l.Undo()
	l.Undo()

	l.Append(stroke("s3"))

	if l.RedoDepth() != 0 {
		t.Errorf("Expected empty redo stack after append, got %d", l.RedoDepth())
	}
	if _, err := l.Redo(); err != ErrNothingToRedo {
		t.Errorf("Expected ErrNothingToRedo, got %v", err)
	}
}

func TestLogUndoEmptyIsIdempotent(t *testing.T) {
	l := NewLog()

	for i := 0; i < 2; i++ {
		if _, err := l.Undo(); err != ErrNothingToUndo {
			t.Errorf("Attempt %d: expected ErrNothingToUndo, got %v", i, err)
		}
		if l.RedoDepth() != 0 {
			t.Errorf("Attempt %d: redo stack should stay empty, got %d", i, l.RedoDepth())
		}
	}
}

func TestLogRedoEmpty(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))

	if _, err := l.Redo(); err != ErrNothingToRedo {
		t.Errorf("Expected ErrNothingToRedo, got %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("History should be untouched, got %d entries", l.Len())
	}
}

func TestLogClear(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))
	l.Append(stroke("s2"))
	l.Undo()

	l.Clear()

	if l.Len() != 0 || l.RedoDepth() != 0 {
		t.Errorf("Expected empty log, got %d ops and %d redo", l.Len(), l.RedoDepth())
	}
	if snap := l.Snapshot(); snap == nil {
		t.Error("Snapshot of an empty log should be an empty slice, not nil")
	}
}

func TestLogSnapshotIsACopy(t *testing.T) {
	l := NewLog()
	l.Append(stroke("s1"))

	snap := l.Snapshot()
	snap[0].ID = "changed"
	l.Append(stroke("s2"))

	if l.Snapshot()[0].ID != "s1" {
		t.Error("Mutating a snapshot must not affect the log")
	}
	if len(snap) != 1 {
		t.Errorf("Snapshot should not grow with later appends, got %d", len(snap))
	}
}

func TestLogAppendCopiesPoints(t *testing.T) {
	l := NewLog()
	s := stroke("s1")
	l.Append(s)

	s.Points[0].X = 999

	if l.Snapshot()[0].Points[0].X != 0 {
		t.Error("Committed points must not change when the caller's slice does")
	}
}

func TestLogConcurrency(t *testing.T) {
	l := NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(stroke("s"))
			l.Snapshot()
		}()
	}
	wg.Wait()

	if l.Len() != 100 {
		t.Errorf("Expected 100 operations, got %d", l.Len())
	}
}

func TestToolValid(t *testing.T) {
	tests := []struct {
		tool Tool
		want bool
	}{
		{ToolBrush, true},
		{ToolEraser, true},
		{"marker", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.tool.Valid(); got != tt.want {
			t.Errorf("Tool(%q).Valid() = %v, want %v", tt.tool, got, tt.want)
		}
	}
}
