package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/observability"
)

// Handler processes one job. Returning nil completes it; an error retries it
// until the attempt budget runs out, unless wrapped with Permanent.
type Handler func(ctx context.Context, job *domain.Job) error

// FailedEvent describes a failed attempt.
type FailedEvent struct {
	Job      *domain.Job
	Err      error
	Terminal bool
}

// FailedListener observes failed attempts. It runs on the worker goroutine.
type FailedListener func(ctx context.Context, ev FailedEvent)

// QueueConfig describes one queue served by the pool.
type QueueConfig struct {
	Name        string
	Concurrency int
	MaxAttempts int
	Timeout     time.Duration // per job; 0 means none
}

// PoolOptions tunes a Pool.
type PoolOptions struct {
	PollInterval time.Duration
	StaleAfter   time.Duration // active jobs older than this are released on Start
	Backoff      Backoff
	Logger       zerolog.Logger
}

type registration struct {
	cfg     QueueConfig
	handler Handler
}

// Pool runs a fixed number of workers per registered queue.
type Pool struct {
	store    *Store
	notifier Notifier
	opts     PoolOptions
	log      zerolog.Logger

	mu        sync.RWMutex
	queues    map[string]*registration
	listeners []FailedListener

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool builds a pool. A nil notifier uses an in-process one.
func NewPool(store *Store, notifier Notifier, opts PoolOptions) *Pool {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Pool{
		store:    store,
		notifier: notifier,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "queue").Logger(),
		queues:   make(map[string]*registration),
	}
}

// Store returns the backing job store.
func (p *Pool) Store() *Store { return p.store }

// Register attaches handler to a queue. It must be called before Start.
func (p *Pool) Register(cfg QueueConfig, h Handler) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	p.mu.Lock()
	p.queues[cfg.Name] = &registration{cfg: cfg, handler: h}
	p.mu.Unlock()
}

// OnFailed adds a listener for failed attempts.
func (p *Pool) OnFailed(l FailedListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Enqueue adds a job using the queue's attempt budget and wakes a worker.
func (p *Pool) Enqueue(ctx context.Context, queue, id string, payload any) (*domain.Job, bool, error) {
	return p.EnqueueAt(ctx, queue, id, payload, 0)
}

// EnqueueAt is Enqueue with a start delay.
func (p *Pool) EnqueueAt(ctx context.Context, queue, id string, payload any, delay time.Duration) (*domain.Job, bool, error) {
	p.mu.RLock()
	reg, ok := p.queues[queue]
	p.mu.RUnlock()
	max := 1
	if ok {
		max = reg.cfg.MaxAttempts
	}
	j, created, err := p.store.Add(ctx, queue, id, payload, AddOptions{MaxAttempts: max, Delay: delay})
	if err != nil {
		return nil, false, err
	}
	if created {
		p.notifier.Notify(queue)
	}
	return j, created, nil
}

// Wake signals idle workers of queue.
func (p *Pool) Wake(queue string) { p.notifier.Notify(queue) }

// Start launches the workers. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, reg := range p.queues {
		if n, err := p.store.ReleaseStale(ctx, name, p.opts.StaleAfter); err != nil {
			p.log.Error().Err(err).Str("queue", name).Msg("release stale jobs failed")
		} else if n > 0 {
			p.log.Warn().Int64("released", n).Str("queue", name).Msg("released stale active jobs")
		}
		for i := 0; i < reg.cfg.Concurrency; i++ {
			wake := p.notifier.Subscribe(name)
			p.wg.Add(1)
			go p.worker(ctx, reg, wake, i)
		}
		p.log.Info().Str("queue", name).Int("concurrency", reg.cfg.Concurrency).Msg("queue workers started")
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, reg *registration, wake <-chan struct{}, n int) {
	defer p.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-timer.C:
		}
		// drain until the queue has nothing due
		for ctx.Err() == nil {
			did, err := p.process(ctx, reg)
			if err != nil {
				p.log.Error().Err(err).Str("queue", reg.cfg.Name).Int("worker", n).Msg("queue processing error")
				break
			}
			if !did {
				break
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.opts.PollInterval)
	}
}

// RunOnce claims and processes at most one due job of queue. It reports
// whether a job was processed.
func (p *Pool) RunOnce(ctx context.Context, queue string) (bool, error) {
	p.mu.RLock()
	reg, ok := p.queues[queue]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("queue %q not registered", queue)
	}
	return p.process(ctx, reg)
}

func (p *Pool) process(ctx context.Context, reg *registration) (bool, error) {
	j, err := p.store.Claim(ctx, reg.cfg.Name)
	if err != nil || j == nil {
		return false, err
	}

	jctx, span := otel.Tracer("queue").Start(ctx, "job "+reg.cfg.Name)
	span.SetAttributes(attribute.String("job.id", j.ID), attribute.Int("job.attempt", j.AttemptsMade+1))
	defer span.End()

	start := time.Now()
	runErr := p.run(jctx, reg, j)
	observability.JobDuration.WithLabelValues(reg.cfg.Name).Observe(time.Since(start).Seconds())

	// Bookkeeping must survive a cancelled parent.
	bctx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := p.store.Complete(bctx, j); err != nil {
			return true, fmt.Errorf("complete job %s: %w", j.ID, err)
		}
		observability.JobsProcessed.WithLabelValues(reg.cfg.Name, "completed").Inc()
		return true, nil
	}

	span.RecordError(runErr)
	delay := p.opts.Backoff.Delay(j.AttemptsMade + 1)
	terminal, err := p.store.Fail(bctx, j, runErr, delay, IsPermanent(runErr))
	if err != nil {
		return true, fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	outcome := "retried"
	ev := p.log.Warn()
	if terminal {
		outcome = "failed"
		ev = p.log.Error()
	}
	observability.JobsProcessed.WithLabelValues(reg.cfg.Name, outcome).Inc()
	ev.Err(runErr).
		Str("queue", reg.cfg.Name).
		Str("job_id", j.ID).
		Int("attempts", j.AttemptsMade).
		Int("max_attempts", j.MaxAttempts).
		Bool("terminal", terminal).
		Msg("job failed")

	p.mu.RLock()
	listeners := append([]FailedListener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, l := range listeners {
		l(bctx, FailedEvent{Job: j, Err: runErr, Terminal: terminal})
	}
	return true, nil
}

// run invokes the handler, turning a panic into an error.
func (p *Pool) run(ctx context.Context, reg *registration, j *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	if reg.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.cfg.Timeout)
		defer cancel()
	}
	return reg.handler(ctx, j)
}
