package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(1, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.AllowAt(now) {
			t.Fatalf("Message %d within burst should pass", i)
		}
	}
	if l.AllowAt(now) {
		t.Error("Message beyond burst should be rejected")
	}
	if !l.AllowAt(now.Add(time.Second)) {
		t.Error("Token should refill after one second")
	}
}

func TestSetClassesAreIndependent(t *testing.T) {
	s := NewSet(map[Class]Rule{
		ClassPreview: {PerSecond: 1, Burst: 1},
		ClassCommit:  {PerSecond: 1, Burst: 2},
	})
	now := time.Now()

	if !s.AllowAt(ClassPreview, now) {
		t.Fatal("First preview should pass")
	}
	if s.AllowAt(ClassPreview, now) {
		t.Error("Second preview should be limited")
	}
	if !s.AllowAt(ClassCommit, now) || !s.AllowAt(ClassCommit, now) {
		t.Error("Commits must not be affected by preview exhaustion")
	}
	if s.AllowAt(ClassCommit, now) {
		t.Error("Third commit should be limited")
	}
}

func TestSetWithoutRuleIsUnlimited(t *testing.T) {
	s := NewSet(nil)
	for i := 0; i < 1000; i++ {
		if !s.Allow(ClassPreview) {
			t.Fatalf("Message %d should pass without a rule", i)
		}
	}
}
