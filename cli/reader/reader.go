// Package reader is the read side of the stakeout CLI. It wraps the
// store behind view types shaped for rendering, so commands never
// touch database records directly.
package reader

import (
	"context"
	"os"
	"time"

	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/track"
	"github.com/justapithecus/stakeout/types"
)

// recentTaskCount bounds the task history embedded in details and
// status snapshots.
const recentTaskCount = 10

// Reader resolves CLI queries against the store.
type Reader struct {
	store  store.Store
	logDir string
}

// New builds a reader over st. logDir is where task execution logs
// live; empty falls back to the executor default.
func New(st store.Store, logDir string) *Reader {
	if logDir == "" {
		logDir = track.DefaultLogDir
	}
	return &Reader{store: st, logDir: logDir}
}

// Trackers lists trackers matching filter, with per-tracker bot counts.
func (r *Reader) Trackers(ctx context.Context, filter store.ListFilter) ([]TrackerItem, error) {
	trackers, err := r.store.Trackers(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]TrackerItem, 0, len(trackers))
	for i := range trackers {
		bots, err := r.store.BotsByTracker(ctx, trackers[i].TrackerID)
		if err != nil {
			return nil, err
		}
		items = append(items, trackerItem(&trackers[i], len(bots)))
	}
	return items, nil
}

// Bots lists bots matching filter.
func (r *Reader) Bots(ctx context.Context, filter store.ListFilter) ([]BotItem, error) {
	bots, err := r.store.Bots(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]BotItem, 0, len(bots))
	for i := range bots {
		items = append(items, botItem(&bots[i]))
	}
	return items, nil
}

// Tasks lists tasks matching filter, newest first.
func (r *Reader) Tasks(ctx context.Context, filter store.ListFilter) ([]TaskItem, error) {
	tasks, err := r.store.Tasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]TaskItem, 0, len(tasks))
	for i := range tasks {
		items = append(items, taskItem(&tasks[i]))
	}
	return items, nil
}

// Results lists uploaded artifacts matching filter, newest first.
func (r *Reader) Results(ctx context.Context, filter store.ListFilter) ([]ResultItem, error) {
	results, err := r.store.Results(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]ResultItem, 0, len(results))
	for i := range results {
		items = append(items, resultItem(&results[i]))
	}
	return items, nil
}

// Proxies lists the stored proxy pool.
func (r *Reader) Proxies(ctx context.Context) ([]ProxyItem, error) {
	proxies, err := r.store.Proxies(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ProxyItem, 0, len(proxies))
	for i := range proxies {
		items = append(items, proxyItem(&proxies[i]))
	}
	return items, nil
}

// Tracker loads one tracker with its bots.
func (r *Reader) Tracker(ctx context.Context, trackerID int64) (*TrackerDetail, error) {
	t, err := r.store.TrackerByID(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	bots, err := r.store.BotsByTracker(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	detail := &TrackerDetail{
		TrackerID:  t.TrackerID,
		Name:       t.Name(),
		Family:     t.Family,
		Status:     t.Status.String(),
		ConfigHash: t.ConfigHash,
		Config:     t.Config,
		Bots:       make([]BotItem, 0, len(bots)),
	}
	for i := range bots {
		detail.Bots = append(detail.Bots, botItem(&bots[i]))
	}
	return detail, nil
}

// Bot loads one bot with its recent tasks and the newest task's
// execution log.
func (r *Reader) Bot(ctx context.Context, botID int64) (*BotDetail, error) {
	b, err := r.store.BotByID(ctx, botID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.store.TasksByBot(ctx, botID, store.ListFilter{Limit: recentTaskCount})
	if err != nil {
		return nil, err
	}
	owner := types.Tracker{TrackerID: b.TrackerID, Family: b.Family}
	detail := &BotDetail{
		BotID:         b.BotID,
		TrackerID:     b.TrackerID,
		TrackerName:   owner.Name(),
		Family:        b.Family,
		Country:       b.Country,
		Status:        b.Status.String(),
		FailingSpree:  b.FailingSpree,
		NextExecution: b.NextExecution,
		LastError:     b.LastError,
		State:         b.State,
		Tasks:         make([]TaskItem, 0, len(tasks)),
	}
	for i := range tasks {
		detail.Tasks = append(detail.Tasks, taskItem(&tasks[i]))
	}
	if len(tasks) > 0 {
		// Missing log files are normal for tasks that crashed before
		// the executor bound one.
		if data, err := os.ReadFile(track.LogPath(r.logDir, tasks[0].TaskID)); err == nil {
			detail.LastLog = string(data)
		}
	}
	return detail, nil
}

// Status collects the pipeline gauges in one snapshot.
func (r *Reader) Status(ctx context.Context) (*StatusSnapshot, error) {
	counters, err := r.store.BotCounters(ctx)
	if err != nil {
		return nil, err
	}
	m, err := r.store.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := r.store.Tasks(ctx, store.ListFilter{Limit: recentTaskCount})
	if err != nil {
		return nil, err
	}

	snap := &StatusSnapshot{
		Trackers:    m.Trackers,
		Alive:       counters.Alive,
		Progress:    counters.Progress,
		Failing:     counters.Failing,
		Crashed:     counters.Crashed,
		Archived:    counters.Archived,
		Bots:        make([]FamilyCell, 0, len(m.Bots)),
		Tasks:       make([]StatusCell, 0, len(m.Tasks)),
		RecentTasks: make([]TaskItem, 0, len(recent)),
		CollectedAt: time.Now().UTC(),
	}
	for _, c := range m.Bots {
		snap.Bots = append(snap.Bots, FamilyCell{
			Family: c.Family,
			Status: c.Status.String(),
			Count:  c.Count,
		})
	}
	for _, c := range m.Tasks {
		snap.Tasks = append(snap.Tasks, StatusCell{
			Status: c.Status.String(),
			Count:  c.Count,
		})
	}
	for i := range recent {
		snap.RecentTasks = append(snap.RecentTasks, taskItem(&recent[i]))
	}
	return snap, nil
}
