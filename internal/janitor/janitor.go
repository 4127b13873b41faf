package janitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Interval time.Duration
	// Rooms with no members and no activity for this long lose their
	// history
	IdleTTL time.Duration
}

// Enabled reports whether the janitor should run at all. A zero interval or
// TTL keeps every room forever.
func (c Config) Enabled() bool {
	return c.Interval > 0 && c.IdleTTL > 0
}

type Evictor interface {
	EvictIdle(ctx context.Context, ttl time.Duration) ([]string, error)
}

type Service struct {
	evictor Evictor
	config  Config
	log     *zap.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(evictor Evictor, config Config, log *zap.Logger) *Service {
	return &Service{
		evictor: evictor,
		config:  config,
		log:     log,
		stop:    make(chan struct{}),
	}
}

func (s *Service) Start() {
	if !s.config.Enabled() {
		s.log.Info("room janitor disabled")
		return
	}
	s.wg.Add(1)
	go s.run()
	s.log.Info("room janitor started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("idle_ttl", s.config.IdleTTL),
	)
}

// Stop is safe to call whether or not Start ran the loop
func (s *Service) Stop() {
	select {
	case <-s.stop:
		return
	default:
	}
	close(s.stop)
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts idle rooms once and returns how many went
func (s *Service) Sweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval+time.Second)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	evicted, err := s.evictor.EvictIdle(ctx, s.config.IdleTTL)
	if err != nil {
		s.log.Warn("room sweep failed", zap.Error(err))
		return 0
	}
	if len(evicted) > 0 {
		s.log.Info("evicted idle rooms", zap.Int("count", len(evicted)), zap.Strings("rooms", evicted))
	}
	return len(evicted)
}
