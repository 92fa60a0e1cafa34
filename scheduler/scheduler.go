// Package scheduler turns due bots into queued track/report job pairs.
//
// One scheduling pass runs every minute. For each bot whose
// next_execution has arrived the scheduler opens a task, pins the bot
// to in-progress and enqueues the execute job plus a report job
// deferred behind it. The report job runs no matter how the execute
// job ends, which is what guarantees every opened task reaches a
// terminal status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/proxy"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/types"
)

const (
	// DefaultTickInterval is the pause between scheduling passes.
	DefaultTickInterval = time.Minute

	// noProxyBackoff is how long a bot waits after a pass found no
	// proxy in its country.
	noProxyBackoff = 24 * time.Hour

	// NoProxyReason is recorded as the bot's last error when its
	// country group is empty.
	NoProxyReason = "No matching proxy found"
)

// Options tunes a Scheduler.
type Options struct {
	// TaskTimeout bounds each enqueued execute job.
	TaskTimeout time.Duration
	// TickInterval overrides the pause between passes.
	TickInterval time.Duration
}

// Scheduler periodically promotes due bots into queued tasks.
type Scheduler struct {
	store     store.Store
	broker    *broker.Broker
	log       *log.Logger
	collector *metrics.Collector

	taskTimeout time.Duration
	tick        time.Duration
	now         func() time.Time
}

// New wires a scheduler to its store and broker. The collector may be
// nil.
func New(st store.Store, b *broker.Broker, collector *metrics.Collector, opts Options) *Scheduler {
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Scheduler{
		store:       st,
		broker:      b,
		log:         log.New("scheduler"),
		collector:   collector,
		taskTimeout: opts.TaskTimeout,
		tick:        tick,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run passes over the due bots once immediately and then on every
// tick, until ctx is cancelled, which returns nil. Database
// inconsistencies abort the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", map[string]any{
		"tick":         s.tick.String(),
		"task_timeout": s.taskTimeout.String(),
	})
	defer func() {
		s.log.Info("scheduler stopped", s.collector.Snapshot().Fields())
	}()

	if err := s.Tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick schedules every currently due bot. Per-bot failures are logged
// and skipped so one broken bot cannot starve the rest; a corrupted
// database aborts the pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	bots, err := s.store.PendingBots(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list pending bots: %w", err)
	}
	if len(bots) > 0 {
		s.log.Info("scheduling pass", map[string]any{"due_bots": len(bots)})
	}

	for _, bot := range bots {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.RunBotTask(ctx, bot.BotID); err != nil {
			if errors.Is(err, store.ErrCorrupted) {
				return err
			}
			s.log.Error("scheduling bot failed", map[string]any{
				"bot_id": bot.BotID,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// RunBotTask opens a task for one bot and enqueues its execute/report
// job pair, all inside a single transaction. A bot that vanished since
// the pass listed it is a no-op. A bot whose country has no proxies is
// rescheduled a day out without a task.
func (s *Scheduler) RunBotTask(ctx context.Context, botID int64) error {
	return s.store.Atomic(ctx, func(tx store.Store) error {
		bot, err := tx.BotByID(ctx, botID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		tracker, err := tx.TrackerByID(ctx, bot.TrackerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("bot %d has no tracker %d: %w", botID, bot.TrackerID, store.ErrCorrupted)
		}
		if err != nil {
			return err
		}

		grouped, err := tx.ProxiesByCountry(ctx)
		if err != nil {
			return err
		}
		candidates := grouped[bot.Country]
		if len(candidates) == 0 {
			s.collector.IncNoProxyMiss()
			s.log.Warn("no proxy for bot country", map[string]any{
				"bot_id":  botID,
				"country": bot.Country,
			})
			next := s.now().Add(noProxyBackoff)
			return tx.UpdateBotAfterRun(ctx, store.BotRunUpdate{
				BotID:         botID,
				Status:        types.StatusFailing,
				NextExecution: next,
				LastError:     NoProxyReason,
			})
		}
		picked, err := proxy.Pick(candidates)
		if err != nil {
			return err
		}

		taskID, err := tx.CreateTask(ctx, botID, types.StatusInProgress)
		if err != nil {
			return err
		}
		if err := tx.SetBotStatuses(ctx, []int64{botID}, types.StatusInProgress); err != nil {
			return err
		}

		// The module sees its config fingerprint under _id; the stored
		// tracker config stays unstamped.
		config := make(map[string]any, len(tracker.Config)+1)
		for k, v := range tracker.Config {
			config[k] = v
		}
		config["_id"] = tracker.ConfigHash

		trackPayload, err := broker.EncodePayload(&types.TrackArgs{
			StaticConfig: config,
			SavedState:   bot.State,
			Proxy:        picked.ConnectionString(),
			BotID:        botID,
			TaskID:       taskID,
		})
		if err != nil {
			return fmt.Errorf("encode track args for task %d: %w", taskID, err)
		}
		trackJobID, err := s.broker.Enqueue(ctx, broker.Job{
			Queue:   broker.QueueTrack,
			Payload: trackPayload,
			Timeout: s.taskTimeout,
		})
		if err != nil {
			return fmt.Errorf("enqueue track job for task %d: %w", taskID, err)
		}

		reportPayload, err := broker.EncodePayload(&types.ReportArgs{
			BotID:        botID,
			ConfigHash:   tracker.ConfigHash,
			TrackerJobID: trackJobID,
			TaskID:       taskID,
		})
		if err != nil {
			return fmt.Errorf("encode report args for task %d: %w", taskID, err)
		}
		if _, err := s.broker.Enqueue(ctx, broker.Job{
			Queue:     broker.QueueReport,
			Payload:   reportPayload,
			DependsOn: trackJobID,
		}); err != nil {
			return fmt.Errorf("enqueue report job for task %d: %w", taskID, err)
		}

		s.collector.IncTaskScheduled()
		s.log.Info("task scheduled", map[string]any{
			"task_id":   taskID,
			"bot_id":    botID,
			"family":    tracker.Family,
			"country":   bot.Country,
			"track_job": trackJobID,
		})
		return nil
	})
}
