package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeEvictor struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	rooms []string
	err   error
}

func (f *fakeEvictor) EvictIdle(_ context.Context, ttl time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ttl = ttl
	return f.rooms, f.err
}

func (f *fakeEvictor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestConfigEnabled(t *testing.T) {
	tests := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{Interval: time.Minute}, false},
		{Config{IdleTTL: time.Hour}, false},
		{Config{Interval: time.Minute, IdleTTL: time.Hour}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.Enabled(); got != tt.want {
			t.Errorf("Config %+v: expected %v, got %v", tt.cfg, tt.want, got)
		}
	}
}

func TestSweep(t *testing.T) {
	ev := &fakeEvictor{rooms: []string{"a", "b"}}
	s := New(ev, Config{Interval: time.Minute, IdleTTL: time.Hour}, zaptest.NewLogger(t))

	if n := s.Sweep(); n != 2 {
		t.Errorf("Expected 2 evicted, got %d", n)
	}
	if ev.ttl != time.Hour {
		t.Errorf("Expected ttl 1h, got %v", ev.ttl)
	}

	ev.err = errors.New("gateway stopped")
	if n := s.Sweep(); n != 0 {
		t.Errorf("Expected 0 on error, got %d", n)
	}
}

func TestServiceTicks(t *testing.T) {
	ev := &fakeEvictor{}
	s := New(ev, Config{Interval: 10 * time.Millisecond, IdleTTL: time.Hour}, zaptest.NewLogger(t))
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for ev.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if ev.Calls() < 2 {
		t.Errorf("Expected at least 2 sweeps, got %d", ev.Calls())
	}
}

func TestDisabledServiceNeverSweeps(t *testing.T) {
	ev := &fakeEvictor{}
	s := New(ev, Config{}, zaptest.NewLogger(t))
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	if ev.Calls() != 0 {
		t.Errorf("Expected no sweeps, got %d", ev.Calls())
	}
}
