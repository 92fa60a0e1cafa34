package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/stakeout/types"
)

// Memory implements Store with in-process maps. It backs tests and
// carries the same status derivation and run bookkeeping as Postgres.
//
// Atomic serialises callers under one mutex but does not roll back
// partial writes; callbacks that fail mid-way leave their earlier
// writes applied.
type Memory struct {
	mu   *sync.Mutex
	inTx bool
	d    *memData
}

var _ Store = (*Memory)(nil)

// memData is the mutable state shared between a Memory store and its
// transaction-bound copies. Access requires the owning mutex.
type memData struct {
	opts Options

	trackers map[int64]*types.Tracker
	bots     map[int64]*types.Bot
	tasks    map[int64]*types.Task
	results  map[int64]*types.Result
	proxies  map[int64]*types.Proxy

	nextTrackerID int64
	nextBotID     int64
	nextTaskID    int64
	nextResultID  int64
	nextProxyID   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		d: &memData{
			opts:     opts,
			trackers: make(map[int64]*types.Tracker),
			bots:     make(map[int64]*types.Bot),
			tasks:    make(map[int64]*types.Task),
			results:  make(map[int64]*types.Result),
			proxies:  make(map[int64]*types.Proxy),
		},
	}
}

// lock acquires the store mutex unless this value is already inside a
// transaction. It returns the matching unlock.
func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) Atomic(_ context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Memory{mu: m.mu, inTx: true, d: m.d})
}

func (m *Memory) Close() error { return nil }

func cloneTracker(t *types.Tracker) *types.Tracker {
	c := *t
	c.Config = maps.Clone(t.Config)
	return &c
}

func cloneBot(b *types.Bot) *types.Bot {
	c := *b
	c.State = maps.Clone(b.State)
	if b.NextExecution != nil {
		next := *b.NextExecution
		c.NextExecution = &next
	}
	return &c
}

// pageBounds clamps filter paging to a slice of length n.
func pageBounds(n int, filter ListFilter) (int, int) {
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + filter.limit()
	if end > n {
		end = n
	}
	return start, end
}

func (m *Memory) CreateTracker(_ context.Context, configHash string, config map[string]any, family string) (int64, error) {
	defer m.lock()()

	for _, t := range m.d.trackers {
		if t.ConfigHash == configHash {
			return 0, fmt.Errorf("create tracker: config hash %s already exists", configHash)
		}
	}
	m.d.nextTrackerID++
	id := m.d.nextTrackerID
	m.d.trackers[id] = &types.Tracker{
		TrackerID:  id,
		ConfigHash: configHash,
		Config:     maps.Clone(config),
		Family:     family,
		Status:     types.StatusNew,
	}
	return id, nil
}

func (m *Memory) TrackerByID(_ context.Context, trackerID int64) (*types.Tracker, error) {
	defer m.lock()()

	t, ok := m.d.trackers[trackerID]
	if !ok {
		return nil, fmt.Errorf("tracker %d: %w", trackerID, ErrNotFound)
	}
	return cloneTracker(t), nil
}

func (m *Memory) TrackerByHash(_ context.Context, configHash string) (*types.Tracker, error) {
	defer m.lock()()

	for _, t := range m.d.trackers {
		if t.ConfigHash == configHash {
			return cloneTracker(t), nil
		}
	}
	return nil, fmt.Errorf("tracker %s: %w", configHash, ErrNotFound)
}

func (m *Memory) Trackers(_ context.Context, filter ListFilter) ([]types.Tracker, error) {
	defer m.lock()()

	var trackers []types.Tracker
	for _, t := range m.d.trackers {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Family != "" && t.Family != filter.Family {
			continue
		}
		trackers = append(trackers, *cloneTracker(t))
	}
	sort.Slice(trackers, func(i, j int) bool {
		return trackers[i].TrackerID > trackers[j].TrackerID
	})
	start, end := pageBounds(len(trackers), filter)
	return trackers[start:end], nil
}

func (m *Memory) CountTrackers(_ context.Context, status *types.Status) (int, error) {
	defer m.lock()()

	n := 0
	for _, t := range m.d.trackers {
		if status == nil || t.Status == *status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RefreshTrackerStatuses(_ context.Context, trackerIDs []int64) error {
	defer m.lock()()

	m.d.refreshTrackers(trackerIDs)
	return nil
}

// refreshTrackers recomputes tracker statuses as the minimum over
// their bots. Trackers without bots keep their current status.
func (d *memData) refreshTrackers(trackerIDs []int64) {
	for _, id := range trackerIDs {
		t, ok := d.trackers[id]
		if !ok {
			continue
		}
		var statuses []types.Status
		for _, b := range d.bots {
			if b.TrackerID == id {
				statuses = append(statuses, b.Status)
			}
		}
		if min, ok := types.MinStatus(statuses); ok {
			t.Status = min
		}
	}
}

func (m *Memory) CreateBot(_ context.Context, trackerID int64, country, family string) (int64, error) {
	defer m.lock()()

	if _, ok := m.d.trackers[trackerID]; !ok {
		return 0, fmt.Errorf("create bot: tracker %d: %w", trackerID, ErrNotFound)
	}
	for _, b := range m.d.bots {
		if b.TrackerID == trackerID && b.Country == country {
			return 0, fmt.Errorf("create bot: tracker %d already has a bot for country %q", trackerID, country)
		}
	}
	m.d.nextBotID++
	id := m.d.nextBotID
	now := time.Now().UTC()
	m.d.bots[id] = &types.Bot{
		BotID:         id,
		TrackerID:     trackerID,
		Status:        types.StatusNew,
		State:         map[string]any{},
		NextExecution: &now,
		Country:       country,
		Family:        family,
	}
	return id, nil
}

func (m *Memory) BotByID(_ context.Context, botID int64) (*types.Bot, error) {
	defer m.lock()()

	b, ok := m.d.bots[botID]
	if !ok {
		return nil, fmt.Errorf("bot %d: %w", botID, ErrNotFound)
	}
	return cloneBot(b), nil
}

func (m *Memory) BotsByTracker(_ context.Context, trackerID int64) ([]types.Bot, error) {
	defer m.lock()()

	var bots []types.Bot
	for _, b := range m.d.bots {
		if b.TrackerID == trackerID {
			bots = append(bots, *cloneBot(b))
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].BotID < bots[j].BotID })
	return bots, nil
}

func (m *Memory) Bots(_ context.Context, filter ListFilter) ([]types.Bot, error) {
	defer m.lock()()

	var bots []types.Bot
	for _, b := range m.d.bots {
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.Family != "" && b.Family != filter.Family {
			continue
		}
		bots = append(bots, *cloneBot(b))
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].BotID > bots[j].BotID })
	start, end := pageBounds(len(bots), filter)
	return bots[start:end], nil
}

func (m *Memory) PendingBots(_ context.Context, now time.Time) ([]types.Bot, error) {
	defer m.lock()()

	var pending []types.Bot
	for _, b := range m.d.bots {
		if !b.Status.Runnable() {
			continue
		}
		if b.NextExecution != nil && b.NextExecution.After(now) {
			continue
		}
		pending = append(pending, *cloneBot(b))
	}
	// Most overdue first, never-run bots last, matching the SQL
	// ordering of next_execution ASC with nulls last.
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i].NextExecution, pending[j].NextExecution
		switch {
		case a == nil && b == nil:
			return pending[i].BotID < pending[j].BotID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return pending[i].BotID < pending[j].BotID
		default:
			return a.Before(*b)
		}
	})
	return pending, nil
}

func (m *Memory) SetBotStatuses(_ context.Context, botIDs []int64, status types.Status) error {
	defer m.lock()()

	trackerIDs := make(map[int64]bool)
	for _, id := range botIDs {
		b, ok := m.d.bots[id]
		if !ok {
			continue
		}
		b.Status = status
		trackerIDs[b.TrackerID] = true
	}
	m.d.refreshTrackers(sortedKeys(trackerIDs))
	return nil
}

func sortedKeys(set map[int64]bool) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (m *Memory) ClearFailingSprees(_ context.Context, botIDs []int64) error {
	defer m.lock()()

	for _, id := range botIDs {
		if b, ok := m.d.bots[id]; ok {
			b.FailingSpree = 0
		}
	}
	return nil
}

func (m *Memory) ReviveBots(ctx context.Context, botIDs []int64) error {
	if len(botIDs) == 0 {
		return nil
	}
	return m.Atomic(ctx, func(tx Store) error {
		if err := tx.ClearFailingSprees(ctx, botIDs); err != nil {
			return err
		}
		return tx.SetBotStatuses(ctx, botIDs, types.StatusWorking)
	})
}

func (m *Memory) UpdateBotAfterRun(_ context.Context, update BotRunUpdate) error {
	// Crashed runs leave the bot exactly as the crash handler put it.
	if update.Status == types.StatusCrashed {
		return nil
	}
	defer m.lock()()

	b, ok := m.d.bots[update.BotID]
	if !ok {
		return fmt.Errorf("bot %d: %w", update.BotID, ErrNotFound)
	}
	switch update.Status {
	case types.StatusWorking:
		b.Status = types.StatusWorking
		b.LastError = ""
		b.FailingSpree = 0
	case types.StatusFailing:
		reason := update.LastError
		if reason == "" {
			reason = DefaultFailReason
		}
		b.FailingSpree++
		if b.FailingSpree > m.d.opts.MaxFailingSpree {
			b.Status = types.StatusArchived
		} else {
			b.Status = types.StatusFailing
		}
		b.LastError = reason
	case types.StatusArchived:
		b.Status = types.StatusArchived
		b.LastError = ""
		b.FailingSpree = 0
	default:
		return fmt.Errorf("unexpected status %v after run of bot %d", update.Status, update.BotID)
	}
	m.d.refreshTrackers([]int64{b.TrackerID})
	if update.State != nil {
		b.State = maps.Clone(update.State)
	}
	next := update.NextExecution
	b.NextExecution = &next
	return nil
}

func (m *Memory) MarkBotCrashed(_ context.Context, botID int64, reason string) error {
	defer m.lock()()

	b, ok := m.d.bots[botID]
	if !ok {
		return fmt.Errorf("bot %d: %w", botID, ErrNotFound)
	}
	b.Status = types.StatusCrashed
	b.LastError = reason
	m.d.refreshTrackers([]int64{b.TrackerID})
	return nil
}

func (m *Memory) CreateTask(_ context.Context, botID int64, status types.Status) (int64, error) {
	defer m.lock()()

	if _, ok := m.d.bots[botID]; !ok {
		return 0, fmt.Errorf("create task: bot %d: %w", botID, ErrNotFound)
	}
	m.d.nextTaskID++
	id := m.d.nextTaskID
	m.d.tasks[id] = &types.Task{
		TaskID:     id,
		BotID:      botID,
		Status:     status,
		ReportTime: time.Now().UTC(),
	}
	return id, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, taskID int64, status types.Status) error {
	defer m.lock()()

	if t, ok := m.d.tasks[taskID]; ok {
		t.Status = status
	}
	return nil
}

func (d *memData) taskView(t *types.Task) (types.TaskView, bool) {
	b, ok := d.bots[t.BotID]
	if !ok {
		return types.TaskView{}, false
	}
	view := types.TaskView{
		Task:       *t,
		Family:     b.Family,
		FailReason: b.LastError,
	}
	for _, r := range d.results {
		if r.TaskID == t.TaskID {
			view.ResultsNo++
		}
	}
	return view, true
}

func (m *Memory) TaskByID(_ context.Context, taskID int64) (*types.TaskView, error) {
	defer m.lock()()

	t, ok := m.d.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	view, ok := m.d.taskView(t)
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	return &view, nil
}

func (m *Memory) Tasks(_ context.Context, filter ListFilter) ([]types.TaskView, error) {
	defer m.lock()()
	return m.d.taskViews(filter, func(*types.Task) bool { return true })
}

func (m *Memory) TasksByBot(_ context.Context, botID int64, filter ListFilter) ([]types.TaskView, error) {
	defer m.lock()()
	return m.d.taskViews(filter, func(t *types.Task) bool { return t.BotID == botID })
}

func (d *memData) taskViews(filter ListFilter, keep func(*types.Task) bool) ([]types.TaskView, error) {
	var views []types.TaskView
	for _, t := range d.tasks {
		if !keep(t) {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if view, ok := d.taskView(t); ok {
			views = append(views, view)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TaskID > views[j].TaskID })
	start, end := pageBounds(len(views), filter)
	return views[start:end], nil
}

func (m *Memory) CountTasks(_ context.Context, status *types.Status) (int, error) {
	defer m.lock()()

	n := 0
	for _, t := range m.d.tasks {
		if status == nil || t.Status == *status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateResult(_ context.Context, result types.Result) (int64, error) {
	defer m.lock()()

	if _, ok := m.d.tasks[result.TaskID]; !ok {
		return 0, fmt.Errorf("create result: task %d: %w", result.TaskID, ErrNotFound)
	}
	m.d.nextResultID++
	id := m.d.nextResultID
	stored := result
	stored.ResultID = id
	stored.UploadTime = time.Now().UTC()
	stored.Tags = slices.Clone(result.Tags)
	if stored.Tags == nil {
		stored.Tags = []string{}
	}
	m.d.results[id] = &stored
	return id, nil
}

func (m *Memory) Results(_ context.Context, filter ListFilter) ([]types.Result, error) {
	defer m.lock()()

	var results []types.Result
	for _, r := range m.d.results {
		c := *r
		c.Tags = slices.Clone(r.Tags)
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ResultID > results[j].ResultID })
	start, end := pageBounds(len(results), filter)
	return results[start:end], nil
}

func (d *memData) sortedProxies() []types.Proxy {
	proxies := make([]types.Proxy, 0, len(d.proxies))
	for _, p := range d.proxies {
		proxies = append(proxies, *p)
	}
	sort.Slice(proxies, func(i, j int) bool {
		if proxies[i].Country != proxies[j].Country {
			return proxies[i].Country < proxies[j].Country
		}
		return proxies[i].ProxyID < proxies[j].ProxyID
	})
	return proxies
}

func (m *Memory) Proxies(_ context.Context) ([]types.Proxy, error) {
	defer m.lock()()
	return m.d.sortedProxies(), nil
}

func (m *Memory) ProxiesByCountry(_ context.Context) (map[string][]types.Proxy, error) {
	defer m.lock()()

	grouped := make(map[string][]types.Proxy)
	for _, p := range m.d.sortedProxies() {
		grouped[p.Country] = append(grouped[p.Country], p)
	}
	return grouped, nil
}

func (m *Memory) SyncProxies(_ context.Context, desired []types.ProxySpec) (types.ProxyChanges, error) {
	defer m.lock()()

	current := m.d.sortedProxies()
	have := make(map[types.ProxySpec]bool, len(current))
	for _, p := range current {
		have[p.Spec()] = true
	}
	want := make(map[types.ProxySpec]bool, len(desired))
	for _, spec := range desired {
		want[spec] = true
	}

	changes := types.ProxyChanges{Added: []types.ProxySpec{}, Deleted: []types.ProxySpec{}}
	deleted := make(map[types.ProxySpec]bool)
	for _, p := range current {
		spec := p.Spec()
		if want[spec] || deleted[spec] {
			continue
		}
		for id, row := range m.d.proxies {
			if row.Spec() == spec {
				delete(m.d.proxies, id)
			}
		}
		deleted[spec] = true
		changes.Deleted = append(changes.Deleted, spec)
	}
	inserted := make(map[types.ProxySpec]bool)
	for _, spec := range desired {
		if have[spec] || inserted[spec] {
			continue
		}
		m.d.nextProxyID++
		id := m.d.nextProxyID
		m.d.proxies[id] = &types.Proxy{
			ProxyID:  id,
			Host:     spec.Host,
			Port:     spec.Port,
			Country:  spec.Country,
			Username: spec.Username,
			Password: spec.Password,
		}
		inserted[spec] = true
		changes.Added = append(changes.Added, spec)
	}
	return changes, nil
}

func (m *Memory) BotCounters(_ context.Context) (types.BotCounters, error) {
	defer m.lock()()

	var c types.BotCounters
	for _, b := range m.d.bots {
		switch b.Status {
		case types.StatusWorking, types.StatusNew:
			c.Alive++
		case types.StatusArchived:
			c.Archived++
		case types.StatusCrashed:
			c.Crashed++
		case types.StatusFailing:
			c.Failing++
		case types.StatusInProgress:
			c.Progress++
		}
	}
	return c, nil
}

func (m *Memory) Metrics(_ context.Context) (types.ServiceMetrics, error) {
	defer m.lock()()

	botGrid := make(map[types.FamilyStatusCount]int)
	for _, b := range m.d.bots {
		botGrid[types.FamilyStatusCount{Family: b.Family, Status: b.Status}]++
	}
	taskGrid := make(map[types.Status]int)
	for _, t := range m.d.tasks {
		taskGrid[t.Status]++
	}

	var metrics types.ServiceMetrics
	for cell, n := range botGrid {
		cell.Count = n
		metrics.Bots = append(metrics.Bots, cell)
	}
	sort.Slice(metrics.Bots, func(i, j int) bool {
		if metrics.Bots[i].Family != metrics.Bots[j].Family {
			return metrics.Bots[i].Family < metrics.Bots[j].Family
		}
		return metrics.Bots[i].Status < metrics.Bots[j].Status
	})
	for status, n := range taskGrid {
		metrics.Tasks = append(metrics.Tasks, types.StatusCount{Status: status, Count: n})
	}
	sort.Slice(metrics.Tasks, func(i, j int) bool {
		return metrics.Tasks[i].Status < metrics.Tasks[j].Status
	})
	metrics.Trackers = len(m.d.trackers)
	return metrics, nil
}
