package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *Limiter) AllowAt(t time.Time) bool {
	return l.limiter.AllowN(t, 1)
}

// Class buckets traffic so cheap previews cannot starve commits
type Class string

const (
	ClassPreview Class = "preview"
	ClassCommit  Class = "commit"
)

type Rule struct {
	PerSecond float64
	Burst     int
}

// Set holds one connection's limiters, one per class, created on first use
type Set struct {
	rules    map[Class]Rule
	limiters map[Class]*Limiter
	mu       sync.Mutex
}

func NewSet(rules map[Class]Rule) *Set {
	return &Set{
		rules:    rules,
		limiters: make(map[Class]*Limiter),
	}
}

// Allow reports whether one more message of the class may pass now. Classes
// without a rule are unlimited.
func (s *Set) Allow(class Class) bool {
	return s.AllowAt(class, time.Now())
}

func (s *Set) AllowAt(class Class, t time.Time) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[class]
	if !ok {
		rule, hasRule := s.rules[class]
		if !hasRule {
			s.mu.Unlock()
			return true
		}
		limiter = NewLimiter(rule.PerSecond, rule.Burst)
		s.limiters[class] = limiter
	}
	s.mu.Unlock()
	return limiter.AllowAt(t)
}
