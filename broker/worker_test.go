package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/stakeout/log"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("worker run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerProcessesJob(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)
	w.Handle(QueueTrack, func(_ context.Context, job *Job) ([]byte, error) {
		return append([]byte("seen:"), job.Payload...), nil
	})
	startWorker(t, w)

	id, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("hello")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var result []byte
	waitFor(t, func() bool {
		result, err = b.Result(ctx, id)
		return err == nil
	})
	if string(result) != "seen:hello" {
		t.Errorf("stored result = %q", result)
	}
}

func TestWorkerReportHasPriority(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)

	order := make(chan string, 2)
	record := func(queue string) Handler {
		return func(context.Context, *Job) ([]byte, error) {
			order <- queue
			return nil, nil
		}
	}
	w.Handle(QueueTrack, record(QueueTrack))
	w.Handle(QueueReport, record(QueueReport))

	// Both ready before the worker starts; the report job must win.
	if _, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := b.Enqueue(ctx, Job{Queue: QueueReport, Payload: []byte("r")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startWorker(t, w)

	first := <-order
	second := <-order
	if first != QueueReport || second != QueueTrack {
		t.Errorf("processing order = %s, %s; want report, track", first, second)
	}
}

func TestWorkerFailureHook(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)
	w.Handle(QueueTrack, func(context.Context, *Job) ([]byte, error) {
		return nil, errors.New("c2 unreachable")
	})

	reported := make(chan string, 1)
	w.Handle(QueueReport, func(_ context.Context, job *Job) ([]byte, error) {
		reported <- job.ID
		return nil, nil
	})

	type failure struct {
		jobID string
		err   error
	}
	failures := make(chan failure, 2)
	w.OnFailure(func(_ context.Context, job *Job, jobErr error) {
		failures <- failure{jobID: job.ID, err: jobErr}
	})
	startWorker(t, w)

	id, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dependentID, err := b.Enqueue(ctx, Job{Queue: QueueReport, Payload: []byte("r"), DependsOn: id})
	if err != nil {
		t.Fatalf("Enqueue dependent: %v", err)
	}

	got := <-failures
	if got.jobID != id {
		t.Errorf("hook saw job %s, want %s", got.jobID, id)
	}
	if got.err == nil || got.err.Error() != "c2 unreachable" {
		t.Errorf("hook saw error %v", got.err)
	}

	var reason string
	waitFor(t, func() bool {
		reason, err = b.Failure(ctx, id)
		return err == nil
	})
	if reason != "c2 unreachable" {
		t.Errorf("failure reason = %q", reason)
	}

	// The dependent report job still runs, so the failed track run
	// gets written back.
	if ranID := <-reported; ranID != dependentID {
		t.Errorf("report handler ran job %s, want %s", ranID, dependentID)
	}
}

func TestWorkerJobTimeout(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)
	w.Handle(QueueTrack, func(jobCtx context.Context, _ *Job) ([]byte, error) {
		<-jobCtx.Done()
		return nil, jobCtx.Err()
	})
	startWorker(t, w)

	id, err := b.Enqueue(ctx, Job{
		Queue:   QueueTrack,
		Payload: []byte("t"),
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var reason string
	waitFor(t, func() bool {
		reason, err = b.Failure(ctx, id)
		return err == nil
	})
	if !strings.Contains(reason, context.DeadlineExceeded.Error()) {
		t.Errorf("failure reason = %q, want a deadline error", reason)
	}
}

func TestWorkerOnlyKeepsPriorityOrder(t *testing.T) {
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)

	// Flag order must not override the canonical priority.
	if err := w.Only(QueueTrack, QueueReport); err != nil {
		t.Fatalf("Only: %v", err)
	}
	if len(w.queues) != 2 || w.queues[0] != QueueReport || w.queues[1] != QueueTrack {
		t.Errorf("queues = %v, want [report track]", w.queues)
	}

	if err := w.Only("archive"); err == nil {
		t.Error("unknown queue should be rejected")
	}
	if err := w.Only(); err == nil {
		t.Error("empty queue set should be rejected")
	}
}

func TestWorkerOnlyRestrictsDequeue(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)
	if err := w.Only(QueueTrack); err != nil {
		t.Fatalf("Only: %v", err)
	}

	tracked := make(chan struct{}, 1)
	w.Handle(QueueTrack, func(context.Context, *Job) ([]byte, error) {
		tracked <- struct{}{}
		return nil, nil
	})

	if _, err := b.Enqueue(ctx, Job{Queue: QueueReport, Payload: []byte("r")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startWorker(t, w)

	<-tracked

	// The report job stays queued for a worker that drains it.
	depths, err := b.QueueDepths(ctx, QueueReport)
	if err != nil {
		t.Fatalf("QueueDepths: %v", err)
	}
	if depths[QueueReport] != 1 {
		t.Errorf("report depth = %d, want 1", depths[QueueReport])
	}
}

func TestWorkerMissingHandler(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	w := NewWorker(b, log.New("worker-test"), nil)
	w.Handle(QueueReport, func(context.Context, *Job) ([]byte, error) {
		return nil, nil
	})
	startWorker(t, w)

	id, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var reason string
	waitFor(t, func() bool {
		reason, err = b.Failure(ctx, id)
		return err == nil
	})
	if want := fmt.Sprintf("no handler for queue %s", QueueTrack); reason != want {
		t.Errorf("failure reason = %q, want %q", reason, want)
	}
}
