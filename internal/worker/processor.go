package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cisco7507/align-audio/internal/orchestrator"
	"github.com/cisco7507/align-audio/internal/store"
	"github.com/cisco7507/align-audio/internal/telemetry"
)

// Queue is the lease-based delivery the worker consumes.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Jobs runs and recovers alignment jobs.
type Jobs interface {
	Run(ctx context.Context, id string) error
	Recover(ctx context.Context, id string) error
}

// Options configures a Processor.
type Options struct {
	Queue Queue
	Jobs  Jobs
	// Concurrency bounds jobs analysed at once; zero means 1.
	Concurrency  int
	PollInterval time.Duration
	// Lease is the visibility timeout the queue grants. Running jobs renew it
	// every Heartbeat, which defaults to a third of Lease.
	Lease     time.Duration
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Processor drives the worker execution loop.
type Processor struct {
	queue     Queue
	jobs      Jobs
	slots     *semaphore.Weighted
	poll      time.Duration
	lease     time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		queue:     opts.Queue,
		jobs:      opts.Jobs,
		slots:     semaphore.NewWeighted(int64(max(1, opts.Concurrency))),
		poll:      opts.PollInterval,
		lease:     opts.Lease,
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if p.poll <= 0 {
		p.poll = time.Second
	}
	if p.lease <= 0 {
		p.lease = 2 * time.Minute
	}
	if p.heartbeat <= 0 {
		p.heartbeat = p.lease / 3
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run starts the main worker loop until context cancellation. Jobs still
// running at shutdown are left leased so another worker picks them up once
// the lease lapses.
func (p *Processor) Run(ctx context.Context) error {
	defer p.wg.Wait()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.reclaim(ctx)
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		if err := p.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			p.slots.Release(1)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("dequeue failed", "error", err)
			}
			if !sleep(ctx, p.poll) {
				return ctx.Err()
			}
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.slots.Release(1)
			p.process(ctx, jobID)
		}()
	}
}

// reclaim requeues ids whose lease expired and returns their jobs to queued.
func (p *Processor) reclaim(ctx context.Context) {
	reclaimed, err := p.queue.RequeueExpired(ctx, p.now(), 100)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("requeue expired leases failed", "error", err)
		}
		return
	}
	for _, id := range reclaimed {
		err := p.jobs.Recover(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, orchestrator.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
			// Never claimed, or already finished. The redelivery is acked as stale.
			p.logger.Debug("reclaimed lease needs no recovery", "job_id", id, "reason", err)
		default:
			p.logger.Error("recover job failed", "job_id", id, "error", err)
		}
	}
}

func (p *Processor) process(ctx context.Context, jobID string) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()
	logger := p.logger.With("job_id", jobID)

	stop := p.keepLease(ctx, jobID)
	err := p.jobs.Run(ctx, jobID)
	stop()

	if ctx.Err() != nil {
		logger.Info("worker stopping, leaving lease to expire")
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		logger.Info("dropping stale delivery", "reason", err)
	default:
		// Unacked, so the lease lapses and the id is redelivered.
		logger.Error("job run failed", "error", err)
		return
	}
	if err := p.queue.Ack(ctx, jobID); err != nil {
		logger.Warn("ack failed", "error", err)
	}
}

// keepLease renews the lease until the returned stop func is called.
func (p *Processor) keepLease(ctx context.Context, jobID string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(ctx, jobID, p.lease); err != nil && ctx.Err() == nil {
					p.logger.Warn("extend lease failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
