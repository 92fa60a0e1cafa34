// Package reporter closes out finished tracking runs.
//
// A report job runs once its track job has finished, successfully or
// not. The reporter reads the stored track return, mirrors the result
// tree into the malware repository, records one result row per upload
// and reschedules the bot. A track job that died without storing a
// return is closed out as crashed with empty hands; the crash handler
// has already written the bot and task records by then, so the
// reporter's writes are no-ops on that path.
package reporter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/mwdb"
	"github.com/justapithecus/stakeout/notify"
	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/types"
	"github.com/justapithecus/stakeout/vault"
)

// DefaultTaskPeriod spaces consecutive runs of one bot unless
// configured otherwise.
const DefaultTaskPeriod = 12 * time.Hour

// Options tunes a reporter.
type Options struct {
	// TaskPeriod is how long after a finished run the next one is due.
	TaskPeriod time.Duration
	// Vault, when set, archives uploaded binaries content-addressed by
	// their sha256. Archive failures never fail the report.
	Vault vault.Client
	// Notifier receives archived and crashed bot events. Nil disables
	// notifications.
	Notifier notify.Notifier
}

// Reporter writes run outcomes back to the store and the repository.
type Reporter struct {
	store      store.Store
	broker     *broker.Broker
	repo       mwdb.Client
	vault      vault.Client
	notifier   notify.Notifier
	log        *log.Logger
	collector  *metrics.Collector
	taskPeriod time.Duration
	now        func() time.Time
}

// New returns a reporter uploading to the given repository client.
func New(st store.Store, b *broker.Broker, repo mwdb.Client, collector *metrics.Collector, opts Options) *Reporter {
	if opts.TaskPeriod <= 0 {
		opts.TaskPeriod = DefaultTaskPeriod
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	return &Reporter{
		store:      st,
		broker:     b,
		repo:       repo,
		vault:      opts.Vault,
		notifier:   opts.Notifier,
		log:        log.New("reporter"),
		collector:  collector,
		taskPeriod: opts.TaskPeriod,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Report closes out one task. The task and its result rows are written
// even when an upload midway through the tree fails; the upload error
// then propagates so the job takes the crash path on top of the
// partial bookkeeping.
func (r *Reporter) Report(ctx context.Context, args *types.ReportArgs) error {
	ret, err := r.loadReturn(ctx, args)
	if err != nil {
		return err
	}
	reportLog := r.log.WithTask(args.TaskID, args.BotID)
	reportLog.Info("reporting run", map[string]any{"status": ret.Status.String()})

	var rows []types.Result
	var uploadErr error
	var tree *results.Node
	if ret.Status == types.StatusWorking || ret.Status == types.StatusArchived {
		tree, err = r.parseTree(ret)
		if err != nil {
			return err
		}
		if !tree.Empty() {
			rows, uploadErr = mwdb.ReportTree(ctx, r.repo, tree, args.ConfigHash)
			for range rows {
				r.collector.IncUpload()
			}
			if uploadErr != nil {
				r.collector.IncUploadError()
				reportLog.Error("pushing results failed", map[string]any{
					"uploaded": len(rows),
					"error":    uploadErr.Error(),
				})
			}
			r.archiveBinaries(ctx, reportLog, tree, rows)
		}
	}

	if err := r.finalize(ctx, args, ret, rows); err != nil {
		return err
	}
	r.notifyOutcome(ctx, reportLog, args, ret)

	if uploadErr != nil {
		return fmt.Errorf("reporter: task %d: %w", args.TaskID, uploadErr)
	}
	reportLog.Info("run reported", map[string]any{
		"status":  ret.Status.String(),
		"results": len(rows),
	})
	return nil
}

// loadReturn reads the track job's stored return. A missing result
// means the run died before storing one; it resolves to a crashed
// status with no results so the task still reaches a terminal state.
func (r *Reporter) loadReturn(ctx context.Context, args *types.ReportArgs) (*types.TrackReturn, error) {
	data, err := r.broker.Result(ctx, args.TrackerJobID)
	if errors.Is(err, broker.ErrNoResult) {
		r.log.Warn("track job stored no result, closing task as crashed", map[string]any{
			"task_id":      args.TaskID,
			"track_job_id": args.TrackerJobID,
		})
		return &types.TrackReturn{Status: types.StatusCrashed}, nil
	}
	if err != nil {
		return nil, err
	}

	var ret types.TrackReturn
	if err := broker.DecodePayload(data, &ret); err != nil {
		return nil, fmt.Errorf("reporter: decoding return of job %s: %w", args.TrackerJobID, err)
	}
	return &ret, nil
}

func (r *Reporter) parseTree(ret *types.TrackReturn) (*results.Node, error) {
	if len(ret.Results) == 0 {
		return results.NewTree(), nil
	}
	tree, err := results.ParseTransport(ret.Results)
	if err != nil {
		return nil, fmt.Errorf("reporter: parsing result tree: %w", err)
	}
	return tree, nil
}

// finalize writes the task verdict, its result rows and the bot's
// schedule. Task and rows land in one transaction; the bot update is
// a separate write and a no-op on crashed outcomes, where the crash
// handler owns the bot record.
func (r *Reporter) finalize(ctx context.Context, args *types.ReportArgs, ret *types.TrackReturn, rows []types.Result) error {
	err := r.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.UpdateTaskStatus(ctx, args.TaskID, ret.Status); err != nil {
			return err
		}
		for _, row := range rows {
			row.TaskID = args.TaskID
			if _, err := tx.CreateResult(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reporter: finalizing task %d: %w", args.TaskID, err)
	}

	err = r.store.UpdateBotAfterRun(ctx, store.BotRunUpdate{
		BotID:         args.BotID,
		Status:        ret.Status,
		State:         ret.State,
		NextExecution: r.now().Add(r.taskPeriod),
	})
	if err != nil {
		return fmt.Errorf("reporter: updating bot %d: %w", args.BotID, err)
	}
	return nil
}

// archiveBinaries copies uploaded binary payloads into the vault,
// content-addressed by the same sha256 the repository assigned them.
// Best-effort: failures are logged and the report carries on.
func (r *Reporter) archiveBinaries(ctx context.Context, reportLog *log.Logger, tree *results.Node, rows []types.Result) {
	if r.vault == nil {
		return
	}
	uploaded := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Type == types.ResultTypeBinary {
			uploaded[row.SHA256] = true
		}
	}
	if len(uploaded) == 0 {
		return
	}

	for _, node := range tree.Flatten().Binaries {
		sum := sha256.Sum256(node.Data)
		key := hex.EncodeToString(sum[:])
		if !uploaded[key] {
			continue
		}
		if err := r.vault.Put(ctx, key, node.Data); err != nil {
			reportLog.Warn("archiving binary failed", map[string]any{
				"sha256": key,
				"error":  err.Error(),
			})
		}
	}
}

// notifyOutcome emits lifecycle events for terminal outcomes: a crash,
// a module-requested archive, or a bot archived for exceeding its
// failing spree. Notification failures are logged only.
func (r *Reporter) notifyOutcome(ctx context.Context, reportLog *log.Logger, args *types.ReportArgs, ret *types.TrackReturn) {
	var event *notify.Event
	switch ret.Status {
	case types.StatusCrashed:
		reason, err := r.broker.Failure(ctx, args.TrackerJobID)
		if err != nil {
			reason = "track job stored no result"
		}
		event = notify.BotCrashed(args.BotID, args.TaskID, reason)
	case types.StatusArchived:
		event = r.archivedEvent(ctx, args, "archive requested by module")
	case types.StatusFailing:
		// A failing run may have tipped the bot over its spree limit.
		bot, err := r.store.BotByID(ctx, args.BotID)
		if err == nil && bot.Status == types.StatusArchived {
			event = notify.BotArchived(bot.BotID, bot.TrackerID, bot.Family, bot.Country, "failing spree exceeded")
		}
	}
	if event == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		reportLog.Warn("notification failed", map[string]any{
			"event": event.Type,
			"error": err.Error(),
		})
	}
}

func (r *Reporter) archivedEvent(ctx context.Context, args *types.ReportArgs, reason string) *notify.Event {
	bot, err := r.store.BotByID(ctx, args.BotID)
	if err != nil {
		return notify.BotArchived(args.BotID, 0, "", "", reason)
	}
	return notify.BotArchived(bot.BotID, bot.TrackerID, bot.Family, bot.Country, reason)
}

// Handler adapts the reporter to the report queue wire format.
func (r *Reporter) Handler() broker.Handler {
	return func(ctx context.Context, job *broker.Job) ([]byte, error) {
		var args types.ReportArgs
		if err := broker.DecodePayload(job.Payload, &args); err != nil {
			return nil, fmt.Errorf("reporter: decoding job %s: %w", job.ID, err)
		}
		if err := r.Report(ctx, &args); err != nil {
			return nil, err
		}
		return nil, nil
	}
}
