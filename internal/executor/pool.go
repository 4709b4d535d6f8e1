package executor

import (
	"context"

	"golang.org/x/time/rate"
)

// PoolConfig configures the blocking WASM worker pool, mirroring the
// *Config-struct convention the rest of this module uses (kura.Config,
// queue.Config, p2pnet.Config).
type PoolConfig struct {
	// Workers is the number of goroutines draining the job queue. Values
	// <= 0 are treated as 1.
	Workers int
	// CallsPerSecond bounds how often Run may hand a new job to the pool,
	// so a burst of heavy WASM calls cannot starve the rest of the peer.
	// <= 0 means unlimited.
	CallsPerSecond float64
	// Burst is the limiter's token bucket size. <= 0 defaults to 1 when
	// CallsPerSecond > 0.
	Burst int
}

// Pool offloads blocking WASM calls onto a small fixed set of worker
// goroutines so the single-writer pipeline driving the WSV is never
// blocked on wasmer itself, and throttles how fast new calls are admitted
// with a golang.org/x/time/rate limiter.
type Pool struct {
	jobs    chan func()
	done    chan struct{}
	limiter *rate.Limiter
}

// NewPool starts workers goroutines draining a shared job queue, throttled
// per cfg.CallsPerSecond.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan func()),
		done: make(chan struct{}),
	}
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job()
		case <-p.done:
			return
		}
	}
}

// Run submits fn to the pool and blocks until it completes or ctx is
// cancelled. fn's own result is returned via the closure capturing it, not
// as a Run return value, so callers can keep their existing result types.
// If the pool was built with a CallsPerSecond limit, Run waits for a token
// before admitting fn, so a burst of calls is smoothed rather than handed
// to the workers all at once.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	result := make(chan struct{})
	job := func() {
		defer close(result)
		fn()
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all workers. Jobs already dispatched still run to
// completion; no new job is accepted after Close returns.
func (p *Pool) Close() {
	close(p.done)
}
