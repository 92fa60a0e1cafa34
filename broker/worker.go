package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
)

const (
	// dequeueBlock is how long a single blocking pop waits before the
	// loop re-checks for shutdown.
	dequeueBlock = 5 * time.Second
	// defaultJobTimeout applies to jobs enqueued without their own.
	defaultJobTimeout = 3 * time.Minute
)

// Handler processes one dequeued job and returns the payload to store
// as the job's result.
type Handler func(ctx context.Context, job *Job) ([]byte, error)

// FailureHook observes a job failure. Hooks run after the handler
// returned and before the job is failed in the broker, so crash
// bookkeeping lands before dependents get promoted.
type FailureHook func(ctx context.Context, job *Job, jobErr error)

// Worker drains queues in priority order, report before track, so
// finished runs are written back before new runs start.
type Worker struct {
	broker         *Broker
	log            *log.Logger
	collector      *metrics.Collector
	queues         []string
	handlers       map[string]Handler
	onFailure      []FailureHook
	defaultTimeout time.Duration
}

// NewWorker returns a worker for the broker's report and track queues.
// Handlers are registered per queue with Handle. A nil collector
// disables counting.
func NewWorker(b *Broker, logger *log.Logger, collector *metrics.Collector) *Worker {
	if logger == nil {
		logger = log.New("worker")
	}
	return &Worker{
		broker:         b,
		log:            logger,
		collector:      collector,
		queues:         []string{QueueReport, QueueTrack},
		handlers:       make(map[string]Handler),
		defaultTimeout: defaultJobTimeout,
	}
}

// Handle registers the handler for one queue. Not safe to call once
// Run has started.
func (w *Worker) Handle(queue string, h Handler) {
	w.handlers[queue] = h
}

// Only narrows the worker to the named queues. The report-before-track
// priority holds regardless of the order given. Not safe to call once
// Run has started.
func (w *Worker) Only(queues ...string) error {
	requested := make(map[string]bool, len(queues))
	for _, q := range queues {
		switch q {
		case QueueReport, QueueTrack:
			requested[q] = true
		default:
			return fmt.Errorf("unknown queue %q", q)
		}
	}
	kept := make([]string, 0, len(requested))
	for _, q := range []string{QueueReport, QueueTrack} {
		if requested[q] {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		return errors.New("at least one queue is required")
	}
	w.queues = kept
	return nil
}

// OnFailure registers a failure hook.
func (w *Worker) OnFailure(hook FailureHook) {
	w.onFailure = append(w.onFailure, hook)
}

// Run processes jobs until ctx is cancelled, which returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", map[string]any{
		"queues": strings.Join(w.queues, ", "),
	})
	defer func() {
		w.log.Info("worker stopped", w.collector.Snapshot().Fields())
	}()
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping", nil)
			return nil
		}
		job, err := w.broker.Dequeue(ctx, w.queues, dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping", nil)
				return nil
			}
			// Expired records surface here when a queued id outlives
			// its job key. Anything else gets a short backoff so a
			// dead Redis does not spin the loop.
			if errors.Is(err, ErrJobMissing) {
				w.log.Warn("skipping vanished job", map[string]any{"error": err.Error()})
				continue
			}
			w.log.Error("dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Queue]
	if !ok {
		w.fail(ctx, job, fmt.Errorf("no handler for queue %s", job.Queue))
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = w.defaultTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	w.log.Info("job started", map[string]any{
		"job_id": job.ID,
		"queue":  job.Queue,
	})
	result, err := handler(jobCtx, job)
	if err != nil {
		w.log.Error("job failed", map[string]any{
			"job_id":  job.ID,
			"queue":   job.Queue,
			"elapsed": time.Since(started).String(),
			"error":   err.Error(),
		})
		w.fail(ctx, job, err)
		return
	}
	if err := w.broker.Complete(ctx, job.ID, result); err != nil {
		w.log.Error("storing job result failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	w.collector.IncJobProcessed()
	w.log.Info("job finished", map[string]any{
		"job_id":  job.ID,
		"queue":   job.Queue,
		"elapsed": time.Since(started).String(),
	})
}

// fail runs the failure hooks and then fails the job in the broker.
// The surrounding ctx is used, not the job's, so bookkeeping still
// happens for jobs that timed out.
func (w *Worker) fail(ctx context.Context, job *Job, jobErr error) {
	w.collector.IncJobFailed()
	for _, hook := range w.onFailure {
		hook(ctx, job, jobErr)
	}
	if err := w.broker.Fail(ctx, job.ID, jobErr.Error()); err != nil {
		w.log.Error("recording job failure failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}
