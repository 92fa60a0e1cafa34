package broker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/types"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), log.New("broker-test"))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	payload, err := EncodePayload(&types.TrackArgs{BotID: 7, TaskID: 9})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	id, err := b.Enqueue(ctx, Job{
		Queue:   QueueTrack,
		Payload: payload,
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("no job id assigned")
	}

	job, err := b.Dequeue(ctx, []string{QueueTrack}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("no job dequeued")
	}
	if job.ID != id || job.Queue != QueueTrack || job.Timeout != time.Minute {
		t.Errorf("job round trip mismatch: %+v", job)
	}
	if !bytes.Equal(job.Payload, payload) {
		t.Error("payload mangled in transit")
	}
	if job.EnqueuedAt.IsZero() {
		t.Error("enqueue time not stamped")
	}

	var args types.TrackArgs
	if err := DecodePayload(job.Payload, &args); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if args.BotID != 7 || args.TaskID != 9 {
		t.Errorf("decoded args = %+v", args)
	}

	// Nothing left; the pop must come back empty, not error.
	job, err = b.Dequeue(ctx, []string{QueueTrack}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue on empty queue: %v", err)
	}
	if job != nil {
		t.Errorf("unexpected job %+v from empty queue", job)
	}
}

func TestEnqueueRejectsOversizedPayload(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.Enqueue(ctx, Job{
		Queue:   QueueTrack,
		Payload: make([]byte, MaxPayloadSize+1),
	})
	var codecErr *CodecError
	if !errors.As(err, &codecErr) || codecErr.Kind != CodecErrorTooLarge {
		t.Errorf("oversize enqueue error = %v, want CodecErrorTooLarge", err)
	}

	if _, err := b.Enqueue(ctx, Job{Payload: []byte("x")}); err == nil {
		t.Error("enqueue without queue name accepted")
	}
}

func TestDependentJobWaitsForParent(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	parentID, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")})
	if err != nil {
		t.Fatalf("Enqueue parent: %v", err)
	}
	childID, err := b.Enqueue(ctx, Job{
		Queue:     QueueReport,
		Payload:   []byte("r"),
		DependsOn: parentID,
	})
	if err != nil {
		t.Fatalf("Enqueue child: %v", err)
	}

	// Report has priority, but the deferred child must stay invisible
	// until its parent finishes.
	job, err := b.Dequeue(ctx, []string{QueueReport, QueueTrack}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || job.ID != parentID {
		t.Fatalf("dequeued %+v, want the parent track job", job)
	}

	if err := b.Complete(ctx, parentID, []byte("done")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	job, err = b.Dequeue(ctx, []string{QueueReport, QueueTrack}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || job.ID != childID {
		t.Fatalf("dequeued %+v, want the promoted child", job)
	}

	result, err := b.Result(ctx, parentID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if string(result) != "done" {
		t.Errorf("stored result = %q", result)
	}
}

func TestDependencyOnFinishedParent(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	parentID, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")})
	if err != nil {
		t.Fatalf("Enqueue parent: %v", err)
	}
	if _, err := b.Dequeue(ctx, []string{QueueTrack}, 50*time.Millisecond); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := b.Complete(ctx, parentID, []byte("done")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// The parent finished before the dependent was even enqueued; the
	// dependent must become runnable immediately.
	childID, err := b.Enqueue(ctx, Job{
		Queue:     QueueReport,
		Payload:   []byte("r"),
		DependsOn: parentID,
	})
	if err != nil {
		t.Fatalf("Enqueue child: %v", err)
	}
	job, err := b.Dequeue(ctx, []string{QueueReport}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || job.ID != childID {
		t.Fatalf("dequeued %+v, want the child", job)
	}
}

func TestFailurePromotesDependents(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	parentID, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")})
	if err != nil {
		t.Fatalf("Enqueue parent: %v", err)
	}
	childID, err := b.Enqueue(ctx, Job{Queue: QueueReport, Payload: []byte("r"), DependsOn: parentID})
	if err != nil {
		t.Fatalf("Enqueue child: %v", err)
	}

	if err := b.Fail(ctx, parentID, "gate exploded"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	reason, err := b.Failure(ctx, parentID)
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if reason != "gate exploded" {
		t.Errorf("failure reason = %q", reason)
	}
	if _, err := b.Result(ctx, parentID); !errors.Is(err, ErrNoResult) {
		t.Errorf("failed job result error = %v, want ErrNoResult", err)
	}

	// The dependent runs after the parent finishes, even when the
	// parent failed. Without this a crashed track run would strand its
	// task in progress forever.
	job, err := b.Dequeue(ctx, []string{QueueReport, QueueTrack}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || job.ID != childID {
		t.Fatalf("dequeued %+v, want the promoted child", job)
	}
	if _, err := b.Result(ctx, parentID); !errors.Is(err, ErrNoResult) {
		t.Errorf("parent result error after promotion = %v, want ErrNoResult", err)
	}
}

func TestQueueDepths(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	for i := 0; i < 3; i++ {
		if _, err := b.Enqueue(ctx, Job{Queue: QueueTrack, Payload: []byte("t")}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := b.Enqueue(ctx, Job{Queue: QueueReport, Payload: []byte("r")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	depths, err := b.QueueDepths(ctx, QueueTrack, QueueReport)
	if err != nil {
		t.Fatalf("QueueDepths: %v", err)
	}
	if depths[QueueTrack] != 3 || depths[QueueReport] != 1 {
		t.Errorf("depths = %+v", depths)
	}
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	ret := &types.TrackReturn{
		Status: types.StatusWorking,
		State:  map[string]any{"last_c2": "http://c2.example.com"},
	}
	data, err := EncodePayload(ret)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	var decoded types.TrackReturn
	if err := DecodePayload(data, &decoded); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Status != types.StatusWorking {
		t.Errorf("status = %v", decoded.Status)
	}
	if decoded.State["last_c2"] != "http://c2.example.com" {
		t.Errorf("state = %+v", decoded.State)
	}

	var garbage types.TrackReturn
	err = DecodePayload([]byte("not msgpack at all"), &garbage)
	var codecErr *CodecError
	if !errors.As(err, &codecErr) || codecErr.Kind != CodecErrorDecode {
		t.Errorf("garbage decode error = %v, want CodecErrorDecode", err)
	}
}
