package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Job is one fire-and-forget unit of background work. Kind labels the
// job in logs; Execute carries its own error handling and only returns
// what could not be handled internally.
type Job interface {
	Kind() string
	Execute(ctx context.Context) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (j JobFunc) Kind() string                      { return j.Name }
func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }

// Pool runs background jobs on a fixed set of workers. Submission is
// fire-and-forget: callers enqueue and return immediately, and job
// failures are logged rather than reported back. Once a job starts it
// runs to completion; Shutdown stops accepting work and drains what is
// already queued.
type Pool struct {
	workers  int
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	log      zerolog.Logger
}

// NewPool creates a worker pool with the specified number of workers
// and queue capacity.
func NewPool(workers, queueSize int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
}

// Start starts the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		log := p.log.With().Int("worker", id).Str("job", job.Kind()).Logger()
		log.Info().Msg("job started")
		// Jobs run on a background context: a started job always runs
		// to completion even while the pool is shutting down.
		if err := job.Execute(context.Background()); err != nil {
			log.Error().Err(err).Msg("job failed")
			continue
		}
		log.Info().Msg("job finished")
	}
}

// Submit enqueues a job. It reports false when the pool is shutting
// down or the queue is full; callers treat that as backpressure.
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.jobQueue <- job:
		return true
	default:
		p.log.Warn().Str("job", job.Kind()).Msg("job queue full, rejecting submission")
		return false
	}
}

// Shutdown stops accepting new jobs, drains the queue and waits for
// in-flight jobs to finish.
func (p *Pool) Shutdown() {
	p.cancel()
	p.once.Do(func() {
		close(p.jobQueue)
	})
	p.wg.Wait()
}
