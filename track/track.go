// Package track executes tracking runs against live C2 infrastructure.
//
// A track job carries a tracker config, the bot's saved state and the
// proxy picked for the run. The executor binds a per-task log file,
// builds the family module and folds its per-C2 results into a task
// status for the report job to consume. Config mistakes resolve inside
// the run: an unknown family crashes the task, a config missing
// critical parameters archives the bot. Infrastructure failures (log
// file, C2 listing, module construction) propagate to the worker and
// take the crash path instead.
package track

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

const (
	// DefaultLogDir holds per-task log files unless configured otherwise.
	DefaultLogDir = "/tmp/logs"
	// DefaultHTTPTimeout bounds module HTTP calls unless configured
	// otherwise.
	DefaultHTTPTimeout = 3 * time.Second
)

// LogPath returns the log file of one task under dir. The executor,
// the failure handler and the API log endpoints all derive the path
// this way.
func LogPath(dir string, taskID int64) string {
	return filepath.Join(dir, strconv.FormatInt(taskID, 10)+".log")
}

// Options tunes an executor.
type Options struct {
	// LogDir is where per-task log files are written.
	LogDir string
	// HTTPTimeout is the default timeout handed to module HTTP calls.
	HTTPTimeout time.Duration
}

// Executor runs track jobs through registered family modules.
type Executor struct {
	registry    *modules.Registry
	log         *log.Logger
	collector   *metrics.Collector
	logDir      string
	httpTimeout time.Duration
}

// New returns an executor running modules from the given registry.
func New(registry *modules.Registry, collector *metrics.Collector, opts Options) *Executor {
	if opts.LogDir == "" {
		opts.LogDir = DefaultLogDir
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}
	return &Executor{
		registry:    registry,
		log:         log.New("executor"),
		collector:   collector,
		logDir:      opts.LogDir,
		httpTimeout: opts.HTTPTimeout,
	}
}

// Execute runs one track job and returns the status, result tree and
// updated bot state.
//
// An unknown family returns a crashed status and a config missing
// critical parameters an archived one; neither is an error, the report
// job records them like any other outcome. The saved state passes
// through untouched on both.
func (e *Executor) Execute(ctx context.Context, args *types.TrackArgs) (*types.TrackReturn, error) {
	e.collector.IncExecution()

	if err := os.MkdirAll(e.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("track: creating log dir: %w", err)
	}
	logFile, err := os.OpenFile(LogPath(e.logDir, args.TaskID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("track: opening task log: %w", err)
	}
	defer logFile.Close()
	taskLog := e.log.WithOutput(logFile).WithTask(args.TaskID, args.BotID)

	family, _ := args.StaticConfig["type"].(string)
	desc, ok := e.registry.Get(family)
	if !ok {
		taskLog.Error("no module for family", map[string]any{"family": family})
		return &types.TrackReturn{
			Status:  types.StatusCrashed,
			Results: results.NewTree().Transport(),
			State:   args.SavedState,
		}, nil
	}

	if missing := desc.MissingCriticalParams(args.StaticConfig); len(missing) > 0 {
		taskLog.Error("insufficient config parameters, archiving bot", map[string]any{
			"family":  family,
			"missing": missing,
		})
		return &types.TrackReturn{
			Status:  types.StatusArchived,
			Results: results.NewTree().Transport(),
			State:   args.SavedState,
		}, nil
	}

	m, err := desc.New(modules.Env{
		Family:      family,
		Config:      args.StaticConfig,
		State:       args.SavedState,
		ProxyURL:    args.Proxy,
		HTTPTimeout: e.httpTimeout,
		Log:         taskLog,
	})
	if err != nil {
		return nil, fmt.Errorf("track: constructing %s module: %w", family, err)
	}

	status, err := modules.Execute(ctx, m, taskLog, e.collector)
	if err != nil {
		return nil, fmt.Errorf("track: running %s module: %w", family, err)
	}

	taskLog.Info("run finished", map[string]any{"status": status.String()})
	return &types.TrackReturn{
		Status:  status,
		Results: m.Results().Transport(),
		State:   m.State(),
	}, nil
}

// Handler adapts the executor to the track queue wire format.
func (e *Executor) Handler() broker.Handler {
	return func(ctx context.Context, job *broker.Job) ([]byte, error) {
		var args types.TrackArgs
		if err := broker.DecodePayload(job.Payload, &args); err != nil {
			return nil, fmt.Errorf("track: decoding job %s: %w", job.ID, err)
		}
		ret, err := e.Execute(ctx, &args)
		if err != nil {
			return nil, err
		}
		return broker.EncodePayload(ret)
	}
}
