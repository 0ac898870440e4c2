package reconcile

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dispatcher runs the asynchronous part of a gesture.
type Dispatcher interface {
	Dispatch(job func())
}

// GoDispatcher runs every job on its own goroutine.
type GoDispatcher struct{}

func (GoDispatcher) Dispatch(job func()) { go job() }

// PoolConfig tunes a Pool.
type PoolConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
}

// Pool bounds the number of concurrent remote calls across all boards. When
// the buffer stays full past the hand-off timeout the job runs detached so a
// gesture is never dropped.
type Pool struct {
	cfg    PoolConfig
	logger *log.Logger

	mu     sync.RWMutex
	jobs   chan func()
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts cfg.Workers workers.
func NewPool(cfg PoolConfig, logger *log.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Pool{cfg: cfg, logger: logger, jobs: make(chan func(), cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Infof("dispatch pool started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("worker", id).Errorf("dispatch job panicked: %v", r)
		}
	}()
	job()
}

// Dispatch hands job to a worker, or runs it detached when the pool is
// saturated or shut down.
func (p *Pool) Dispatch(job func()) {
	if p.tryEnqueue(job) {
		return
	}
	dispatchSaturated.Inc()
	p.logger.Warn("dispatch buffer saturated; running detached")
	go p.run(-1, job)
}

func (p *Pool) tryEnqueue(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
	}

	if p.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- job:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
