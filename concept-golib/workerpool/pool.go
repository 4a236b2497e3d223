package workerpool

import (
	"context"
	"sync"
)

// Job is a unit of work run by a Pool.
type Job func() error

// Pool runs jobs with a bounded number of worker goroutines. The first error
// returned by any job is retained and reported by Wait; later errors are
// dropped.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Job
	running int
	stopped bool
	err     error

	// soft bound used by AddBlocking for producer backpressure
	maxQueued int
}

// New returns a pool with the given number of workers.
func New(workers int) *Pool {
	return NewWithCtx(context.Background(), workers)
}

// NewWithCtx returns a pool whose workers exit when ctx is cancelled.
// Jobs already running are allowed to finish.
func NewWithCtx(ctx context.Context, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:       ctx,
		cancel:    cancel,
		maxQueued: 2 * workers,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.stopped = true
		p.queue = nil
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
	return p
}

// Add enqueues jobs without blocking.
func (p *Pool) Add(jobs []Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue = append(p.queue, jobs...)
	p.cond.Broadcast()
}

// AddBlocking enqueues jobs, blocking whenever the queue is saturated so that
// producers cannot outrun the workers arbitrarily.
func (p *Pool) AddBlocking(jobs []Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range jobs {
		for len(p.queue) >= p.maxQueued && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			return
		}
		p.queue = append(p.queue, job)
		p.cond.Broadcast()
	}
}

// Wait blocks until all added jobs have completed or the pool is stopped, and
// returns the first job error observed.
func (p *Pool) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for (len(p.queue) > 0 || p.running > 0) && !p.stopped {
		p.cond.Wait()
	}
	for p.running > 0 {
		p.cond.Wait()
	}
	return p.err
}

// Stop discards queued jobs and releases the workers. In-flight jobs run to
// completion.
func (p *Pool) Stop() {
	p.cancel()
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		p.cond.Broadcast()
		p.mu.Unlock()

		err := job()

		p.mu.Lock()
		p.running--
		if err != nil && p.err == nil {
			p.err = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}
