// Package broker queues track and report jobs through Redis.
//
// Jobs live as msgpack records under per-job keys and queues are
// plain lists holding job ids. A job enqueued with a dependency stays
// deferred in a set keyed by its parent until the parent finishes:
// both completion and failure promote dependents onto their queues,
// so a report job always runs after its track job no matter how the
// run went. Results are stored per job with a TTL so the reporter can
// pick up a track run's output after the fact.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/stakeout/log"
)

// Queue names, in no particular order. Workers decide priority.
const (
	QueueTrack  = "track"
	QueueReport = "report"
)

const (
	// resultTTL bounds how long job results and failure notes are kept.
	resultTTL = 24 * time.Hour
	// jobTTL bounds how long an unprocessed job record may linger, so
	// orphaned records do not accumulate forever.
	jobTTL = 7 * 24 * time.Hour
)

var (
	// ErrJobMissing indicates a queued id whose job record is gone,
	// usually because it expired before a worker got to it.
	ErrJobMissing = errors.New("job record missing")

	// ErrNoResult indicates the job has no stored result, because it
	// has not finished, failed, or its result expired.
	ErrNoResult = errors.New("no stored result")
)

func keyQueue(name string) string { return "stakeout:queue:" + name }
func keyJob(id string) string     { return "stakeout:job:" + id }
func keyDeps(id string) string    { return "stakeout:deps:" + id }
func keyResult(id string) string  { return "stakeout:result:" + id }
func keyFailure(id string) string { return "stakeout:failed:" + id }

// Job is one unit of queued work. The payload is an opaque msgpack
// blob; the queue name doubles as the payload discriminator.
type Job struct {
	ID         string        `msgpack:"id"`
	Queue      string        `msgpack:"queue"`
	Payload    []byte        `msgpack:"payload"`
	Timeout    time.Duration `msgpack:"timeout"`
	DependsOn  string        `msgpack:"depends_on,omitempty"`
	EnqueuedAt time.Time     `msgpack:"enqueued_at"`
}

// Broker mediates job queues over a single Redis connection pool. It
// is safe for concurrent use.
type Broker struct {
	rdb *redis.Client
	log *log.Logger
}

// New connects a broker to the Redis instance at addr.
func New(addr string, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.New("broker")
	}
	return &Broker{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: logger,
	}
}

// Ping verifies the Redis connection.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}

// Enqueue stores the job and makes it runnable, either immediately or
// once its parent finishes. It returns the job id, generating one
// when the job carries none.
func (b *Broker) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.Queue == "" {
		return "", errors.New("enqueue: queue name is required")
	}
	if len(job.Payload) > MaxPayloadSize {
		return "", &CodecError{
			Kind: CodecErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(job.Payload), MaxPayloadSize),
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	record, err := msgpack.Marshal(&job)
	if err != nil {
		return "", fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := b.rdb.Set(ctx, keyJob(job.ID), record, jobTTL).Err(); err != nil {
		return "", fmt.Errorf("store job %s: %w", job.ID, err)
	}

	if job.DependsOn == "" {
		if err := b.rdb.LPush(ctx, keyQueue(job.Queue), job.ID).Err(); err != nil {
			return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
		return job.ID, nil
	}

	// Defer behind the parent. The parent may already be gone by the
	// time we get here; promote right away then so the job is not
	// stranded in the dependency set.
	if err := b.rdb.SAdd(ctx, keyDeps(job.DependsOn), job.ID).Err(); err != nil {
		return "", fmt.Errorf("defer job %s: %w", job.ID, err)
	}
	pending, err := b.rdb.Exists(ctx, keyJob(job.DependsOn)).Result()
	if err != nil {
		return "", fmt.Errorf("check parent of job %s: %w", job.ID, err)
	}
	if pending == 0 {
		if err := b.promote(ctx, job.DependsOn); err != nil {
			return "", err
		}
	}
	return job.ID, nil
}

// Dequeue pops the next ready job, checking queues in the given
// priority order. It blocks up to the given duration and returns a
// nil job when nothing arrived.
func (b *Broker) Dequeue(ctx context.Context, queues []string, block time.Duration) (*Job, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = keyQueue(q)
	}
	popped, err := b.rdb.BRPop(ctx, block, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return b.loadJob(ctx, popped[1])
}

func (b *Broker) loadJob(ctx context.Context, jobID string) (*Job, error) {
	record, err := b.rdb.Get(ctx, keyJob(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job Job
	if err := msgpack.Unmarshal(record, &job); err != nil {
		return nil, &CodecError{
			Kind: CodecErrorDecode,
			Msg:  fmt.Sprintf("job %s record", jobID),
			Err:  err,
		}
	}
	return &job, nil
}

// Complete stores the job's result, retires its record and promotes
// any jobs deferred behind it.
func (b *Broker) Complete(ctx context.Context, jobID string, result []byte) error {
	if err := b.rdb.Set(ctx, keyResult(jobID), result, resultTTL).Err(); err != nil {
		return fmt.Errorf("store result of job %s: %w", jobID, err)
	}
	if err := b.rdb.Del(ctx, keyJob(jobID)).Err(); err != nil {
		return fmt.Errorf("retire job %s: %w", jobID, err)
	}
	return b.promote(ctx, jobID)
}

// Fail records the failure reason, retires the job record and
// promotes any jobs deferred behind it. Dependents run after the
// parent finishes, not after it succeeds; the reporter relies on this
// to close out tasks whose track run died.
func (b *Broker) Fail(ctx context.Context, jobID, reason string) error {
	if err := b.rdb.Set(ctx, keyFailure(jobID), reason, resultTTL).Err(); err != nil {
		return fmt.Errorf("store failure of job %s: %w", jobID, err)
	}
	if err := b.rdb.Del(ctx, keyJob(jobID)).Err(); err != nil {
		return fmt.Errorf("retire job %s: %w", jobID, err)
	}
	return b.promote(ctx, jobID)
}

// Result returns the stored result of a finished job.
func (b *Broker) Result(ctx context.Context, jobID string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, keyResult(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNoResult)
	}
	if err != nil {
		return nil, fmt.Errorf("load result of job %s: %w", jobID, err)
	}
	return data, nil
}

// Failure returns the stored failure reason of a failed job, or
// ErrNoResult when the job did not fail.
func (b *Broker) Failure(ctx context.Context, jobID string) (string, error) {
	reason, err := b.rdb.Get(ctx, keyFailure(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("job %s: %w", jobID, ErrNoResult)
	}
	if err != nil {
		return "", fmt.Errorf("load failure of job %s: %w", jobID, err)
	}
	return reason, nil
}

// QueueDepths reports the number of ready jobs per queue.
func (b *Broker) QueueDepths(ctx context.Context, queues ...string) (map[string]int64, error) {
	depths := make(map[string]int64, len(queues))
	for _, q := range queues {
		n, err := b.rdb.LLen(ctx, keyQueue(q)).Result()
		if err != nil {
			return nil, fmt.Errorf("depth of queue %s: %w", q, err)
		}
		depths[q] = n
	}
	return depths, nil
}

// promote moves jobs deferred behind a finished parent onto their
// queues.
func (b *Broker) promote(ctx context.Context, parentID string) error {
	for {
		id, err := b.rdb.SPop(ctx, keyDeps(parentID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("promote dependents of %s: %w", parentID, err)
		}
		job, err := b.loadJob(ctx, id)
		if err != nil {
			b.log.Warn("dropping unloadable deferred job", map[string]any{
				"job_id": id,
				"parent": parentID,
				"error":  err.Error(),
			})
			continue
		}
		if err := b.rdb.LPush(ctx, keyQueue(job.Queue), job.ID).Err(); err != nil {
			return fmt.Errorf("promote job %s: %w", job.ID, err)
		}
	}
}
