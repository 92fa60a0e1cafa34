package track

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/types"
)

// CrashHandler records jobs that died outside the normal result path:
// handler errors, timeouts and panics from either queue. It appends
// the full error to the task log, marks the bot crashed with a short
// reason and closes the task. The dependent report job still runs
// afterwards and finds nothing left to do.
type CrashHandler struct {
	store     store.Store
	log       *log.Logger
	collector *metrics.Collector
	logDir    string
}

// NewCrashHandler returns a crash handler writing into the given store
// and task log directory.
func NewCrashHandler(st store.Store, collector *metrics.Collector, logDir string) *CrashHandler {
	if logDir == "" {
		logDir = DefaultLogDir
	}
	return &CrashHandler{
		store:     st,
		log:       log.New("crash-handler"),
		collector: collector,
		logDir:    logDir,
	}
}

// Hook adapts the handler to the worker's failure hook interface.
func (h *CrashHandler) Hook() broker.FailureHook {
	return func(ctx context.Context, job *broker.Job, jobErr error) {
		h.Handle(ctx, job, jobErr)
	}
}

// Handle records one failed job. Bookkeeping errors are logged, not
// returned: the job is already lost and the hook must not stop the
// worker.
func (h *CrashHandler) Handle(ctx context.Context, job *broker.Job, jobErr error) {
	botID, taskID, ok := jobIdentity(job)
	if !ok {
		h.log.Error("failed job has no usable payload", map[string]any{
			"job_id": job.ID,
			"queue":  job.Queue,
			"error":  jobErr.Error(),
		})
		return
	}
	h.collector.IncCrash()

	if err := h.appendCrashLog(taskID, jobErr); err != nil {
		h.log.Error("appending crash to task log failed", map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		})
	}

	err := h.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.MarkBotCrashed(ctx, botID, shortReason(jobErr)); err != nil {
			return err
		}
		return tx.UpdateTaskStatus(ctx, taskID, types.StatusCrashed)
	})
	if err != nil {
		h.log.Error("recording crash failed", map[string]any{
			"bot_id":  botID,
			"task_id": taskID,
			"error":   err.Error(),
		})
		return
	}
	h.log.Info("job crash recorded", map[string]any{
		"job_id":  job.ID,
		"queue":   job.Queue,
		"bot_id":  botID,
		"task_id": taskID,
	})
}

// appendCrashLog writes the full error and a stack trace to the task
// log, so the short reason on the bot record has somewhere to point.
func (h *CrashHandler) appendCrashLog(taskID int64, jobErr error) error {
	if err := os.MkdirAll(h.logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(LogPath(h.logDir, taskID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "job crashed: %v\n%s", jobErr, debug.Stack())
	return err
}

// jobIdentity pulls the bot and task ids out of a payload from either
// queue.
func jobIdentity(job *broker.Job) (botID, taskID int64, ok bool) {
	switch job.Queue {
	case broker.QueueTrack:
		var args types.TrackArgs
		if err := broker.DecodePayload(job.Payload, &args); err != nil {
			return 0, 0, false
		}
		return args.BotID, args.TaskID, true
	case broker.QueueReport:
		var args types.ReportArgs
		if err := broker.DecodePayload(job.Payload, &args); err != nil {
			return 0, 0, false
		}
		return args.BotID, args.TaskID, true
	default:
		return 0, 0, false
	}
}

// shortReason keeps the first line of the error for the bot record.
// The full text already went to the task log.
func shortReason(err error) string {
	text := err.Error()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}
