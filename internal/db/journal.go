package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const maxBatch = 64

// Journal is a write-behind activity log. Record never blocks; entries are
// written in batches by a single goroutine. Nothing is ever read back into
// room state.
type Journal struct {
	database *Database
	log      *zap.Logger
	entries  chan Activity
	stop     chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Int64
}

func NewJournal(database *Database, log *zap.Logger, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Journal{
		database: database,
		log:      log,
		entries:  make(chan Activity, buffer),
		stop:     make(chan struct{}),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.run()
	j.log.Info("activity journal started", zap.Int("buffer", cap(j.entries)))
}

// Stop flushes whatever is buffered and waits for the writer to exit
func (j *Journal) Stop() {
	close(j.stop)
	j.wg.Wait()
	j.log.Info("activity journal stopped", zap.Int64("dropped", j.dropped.Load()))
}

// Record queues an entry, dropping it if the buffer is full
func (j *Journal) Record(a Activity) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	select {
	case j.entries <- a:
	default:
		if n := j.dropped.Add(1); n%100 == 1 {
			j.log.Warn("journal buffer full, dropping entries", zap.Int64("dropped", n))
		}
	}
}

func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) run() {
	defer j.wg.Done()

	for {
		select {
		case <-j.stop:
			for batch := j.drain(nil); len(batch) > 0; batch = j.drain(nil) {
				j.flush(batch)
			}
			return
		case a := <-j.entries:
			j.flush(j.drain([]Activity{a}))
		}
	}
}

// drain pulls whatever is already queued, up to maxBatch entries
func (j *Journal) drain(batch []Activity) []Activity {
	for len(batch) < maxBatch {
		select {
		case a := <-j.entries:
			batch = append(batch, a)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) flush(batch []Activity) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := j.database.InsertActivity(ctx, batch); err != nil {
		j.log.Error("journal write failed", zap.Int("entries", len(batch)), zap.Error(err))
	}
}
