// Package store persists trackers, bots, tasks, results and proxies.
//
// Two implementations are provided: Postgres for deployments and
// Memory for tests. Both derive tracker statuses from bot statuses: a
// tracker's status is the minimum over its bots, which is why the
// status enum orders crashed before inprogress before working and why
// the database enum must declare its labels in the same order. Every
// write that changes bot statuses refreshes the affected trackers.
package store

import (
	"context"
	"time"

	"github.com/justapithecus/stakeout/types"
)

// Store is the persistence surface shared by the scheduler, the
// workers and the API server.
type Store interface {
	// CreateTracker inserts a tracker with status new and returns its id.
	CreateTracker(ctx context.Context, configHash string, config map[string]any, family string) (int64, error)
	// TrackerByID returns the tracker or ErrNotFound.
	TrackerByID(ctx context.Context, trackerID int64) (*types.Tracker, error)
	// TrackerByHash returns the tracker with the given config hash or
	// ErrNotFound. Config hashes are unique per tracker.
	TrackerByHash(ctx context.Context, configHash string) (*types.Tracker, error)
	// Trackers lists trackers, newest first.
	Trackers(ctx context.Context, filter ListFilter) ([]types.Tracker, error)
	// CountTrackers counts trackers, optionally narrowed to one status.
	CountTrackers(ctx context.Context, status *types.Status) (int, error)
	// RefreshTrackerStatuses recomputes the status of the given
	// trackers as the minimum over their bots' statuses. Trackers
	// without bots keep their current status.
	RefreshTrackerStatuses(ctx context.Context, trackerIDs []int64) error

	// CreateBot inserts a bot with status new, empty state and an
	// execution schedule of now, so fresh bots are immediately due.
	// A tracker holds at most one bot per country.
	CreateBot(ctx context.Context, trackerID int64, country, family string) (int64, error)
	// BotByID returns the bot or ErrNotFound.
	BotByID(ctx context.Context, botID int64) (*types.Bot, error)
	// BotsByTracker lists the bots of one tracker, oldest first.
	BotsByTracker(ctx context.Context, trackerID int64) ([]types.Bot, error)
	// Bots lists bots, newest first.
	Bots(ctx context.Context, filter ListFilter) ([]types.Bot, error)
	// PendingBots lists runnable bots due at the given instant, most
	// overdue first. A bot is due when its next execution is unset or
	// not after now, and runnable when its status is working, failing
	// or new.
	PendingBots(ctx context.Context, now time.Time) ([]types.Bot, error)
	// SetBotStatuses sets the status of the given bots and refreshes
	// their trackers.
	SetBotStatuses(ctx context.Context, botIDs []int64, status types.Status) error
	// ClearFailingSprees resets the failing spree counters of the
	// given bots.
	ClearFailingSprees(ctx context.Context, botIDs []int64) error
	// ReviveBots clears sprees and forces the given bots back to
	// working, refreshing their trackers.
	ReviveBots(ctx context.Context, botIDs []int64) error
	// UpdateBotAfterRun applies the verdict of a finished run. See
	// BotRunUpdate for the per-status semantics.
	UpdateBotAfterRun(ctx context.Context, update BotRunUpdate) error
	// MarkBotCrashed records a crash reason on the bot, sets its
	// status to crashed and refreshes its tracker. Sprees, state and
	// the execution schedule are left untouched.
	MarkBotCrashed(ctx context.Context, botID int64, reason string) error

	// CreateTask inserts a task stamped with the current time and
	// returns its id.
	CreateTask(ctx context.Context, botID int64, status types.Status) (int64, error)
	// UpdateTaskStatus sets the status of one task.
	UpdateTaskStatus(ctx context.Context, taskID int64, status types.Status) error
	// TaskByID returns the task view or ErrNotFound.
	TaskByID(ctx context.Context, taskID int64) (*types.TaskView, error)
	// Tasks lists task views, newest first.
	Tasks(ctx context.Context, filter ListFilter) ([]types.TaskView, error)
	// TasksByBot lists the task views of one bot, newest first.
	TasksByBot(ctx context.Context, botID int64, filter ListFilter) ([]types.TaskView, error)
	// CountTasks counts tasks, optionally narrowed to one status.
	CountTasks(ctx context.Context, status *types.Status) (int, error)

	// CreateResult inserts a result stamped with the current time and
	// returns its id. The ResultID and UploadTime fields of the
	// argument are ignored.
	CreateResult(ctx context.Context, result types.Result) (int64, error)
	// Results lists results, newest first.
	Results(ctx context.Context, filter ListFilter) ([]types.Result, error)

	// Proxies lists all proxies ordered by country.
	Proxies(ctx context.Context) ([]types.Proxy, error)
	// ProxiesByCountry groups all proxies by their exit country.
	ProxiesByCountry(ctx context.Context) (map[string][]types.Proxy, error)
	// SyncProxies reconciles the stored proxies against the desired
	// set, removing stale entries and inserting missing ones.
	SyncProxies(ctx context.Context, desired []types.ProxySpec) (types.ProxyChanges, error)

	// BotCounters aggregates bot statuses for the heartbeat endpoint.
	BotCounters(ctx context.Context) (types.BotCounters, error)
	// Metrics snapshots the per-family and per-status counts served on
	// the monitoring endpoint.
	Metrics(ctx context.Context) (types.ServiceMetrics, error)

	// Atomic runs fn against a store whose calls all happen in one
	// transaction. Returning an error rolls the transaction back.
	// Nested calls join the enclosing transaction.
	Atomic(ctx context.Context, fn func(Store) error) error

	Close() error
}

// Options tunes behaviour shared by every store implementation.
type Options struct {
	// MaxFailingSpree is how many consecutive failing runs a bot
	// survives before UpdateBotAfterRun archives it.
	MaxFailingSpree int
}

// ListFilter narrows and pages list queries. The zero value lists the
// newest hundred records.
type ListFilter struct {
	// Status keeps only records with the given status. Nil keeps all.
	Status *types.Status
	// Family keeps only records of the given family, on queries where
	// the record has one. Empty keeps all.
	Family string
	// Limit caps the number of returned records. Values below one
	// fall back to the default of 100.
	Limit int
	// Offset skips that many records for paging.
	Offset int
}

const defaultListLimit = 100

func (f ListFilter) limit() int {
	if f.Limit < 1 {
		return defaultListLimit
	}
	return f.Limit
}

// BotRunUpdate carries the verdict of one finished task back to the
// bot that ran it.
//
// The status decides the bookkeeping: working clears the failing
// spree and the last error, failing increments the spree and archives
// the bot once the spree exceeds the configured maximum, archived
// parks the bot and clears the spree. Crashed makes the whole update
// a no-op so that crash handling stays with MarkBotCrashed and a
// crashed bot is never rescheduled. Any other status is an error.
type BotRunUpdate struct {
	BotID  int64
	Status types.Status
	// State replaces the bot's saved module state. Nil keeps the
	// previous state.
	State map[string]any
	// NextExecution is when the scheduler should pick the bot up
	// again. Not written on a crash.
	NextExecution time.Time
	// LastError is the failure reason recorded on a failing run.
	// Empty defaults to "Failed to get config".
	LastError string
}

// DefaultFailReason is recorded on failing runs that did not supply a
// reason of their own.
const DefaultFailReason = "Failed to get config"
