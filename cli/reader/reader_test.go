package reader

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/track"
	"github.com/justapithecus/stakeout/types"
)

func newTestReader(t *testing.T) (*Reader, *store.Memory, string) {
	t.Helper()
	st := store.NewMemory(store.Options{MaxFailingSpree: 5})
	logDir := t.TempDir()
	return New(st, logDir), st, logDir
}

// seedTracker plants one tracker with one bot and returns their ids.
func seedTracker(t *testing.T, st *store.Memory) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	trackerID, err := st.CreateTracker(ctx, "cafe01", map[string]any{"type": "demofam"}, "demofam")
	if err != nil {
		t.Fatalf("CreateTracker: %v", err)
	}
	botID, err := st.CreateBot(ctx, trackerID, "us", "demofam")
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	return trackerID, botID
}

func TestTrackersCountBots(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	trackerID, _ := seedTracker(t, st)
	if _, err := st.CreateBot(ctx, trackerID, "de", "demofam"); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}

	items, err := rd.Trackers(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("Trackers: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d trackers, want 1", len(items))
	}
	item := items[0]
	if item.Name != "1_demofam" {
		t.Errorf("Name = %q, want 1_demofam", item.Name)
	}
	if item.Status != "new" {
		t.Errorf("Status = %q, want new", item.Status)
	}
	if item.Bots != 2 {
		t.Errorf("Bots = %d, want 2", item.Bots)
	}
}

func TestBotsFilterByStatus(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	seedTracker(t, st)
	trackerID, _ := seedTracker(t, st)
	otherBot, err := st.CreateBot(ctx, trackerID, "de", "demofam")
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if err := st.SetBotStatuses(ctx, []int64{otherBot}, types.StatusWorking); err != nil {
		t.Fatalf("SetBotStatuses: %v", err)
	}

	working := types.StatusWorking
	items, err := rd.Bots(ctx, store.ListFilter{Status: &working})
	if err != nil {
		t.Fatalf("Bots: %v", err)
	}
	if len(items) != 1 || items[0].BotID != otherBot {
		t.Fatalf("got %+v, want only bot %d", items, otherBot)
	}
	if items[0].Status != "working" {
		t.Errorf("Status = %q, want working", items[0].Status)
	}
}

func TestTrackerDetail(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	trackerID, botID := seedTracker(t, st)
	detail, err := rd.Tracker(ctx, trackerID)
	if err != nil {
		t.Fatalf("Tracker: %v", err)
	}
	if detail.ConfigHash != "cafe01" {
		t.Errorf("ConfigHash = %q, want cafe01", detail.ConfigHash)
	}
	if len(detail.Bots) != 1 || detail.Bots[0].BotID != botID {
		t.Fatalf("Bots = %+v, want bot %d", detail.Bots, botID)
	}
	if detail.Config["type"] != "demofam" {
		t.Errorf("Config = %v, want type demofam", detail.Config)
	}
}

func TestTrackerDetailNotFound(t *testing.T) {
	rd, _, _ := newTestReader(t)
	if _, err := rd.Tracker(context.Background(), 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBotDetailIncludesTasksAndLastLog(t *testing.T) {
	rd, st, logDir := newTestReader(t)
	ctx := context.Background()

	_, botID := seedTracker(t, st)
	taskID, err := st.CreateTask(ctx, botID, types.StatusWorking)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := os.WriteFile(track.LogPath(logDir, taskID), []byte("fetched 2 samples\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	detail, err := rd.Bot(ctx, botID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if detail.TrackerName != "1_demofam" {
		t.Errorf("TrackerName = %q, want 1_demofam", detail.TrackerName)
	}
	if len(detail.Tasks) != 1 || detail.Tasks[0].TaskID != taskID {
		t.Fatalf("Tasks = %+v, want task %d", detail.Tasks, taskID)
	}
	if detail.LastLog != "fetched 2 samples\n" {
		t.Errorf("LastLog = %q, want log contents", detail.LastLog)
	}
}

func TestBotDetailWithoutTasks(t *testing.T) {
	rd, st, _ := newTestReader(t)
	_, botID := seedTracker(t, st)

	detail, err := rd.Bot(context.Background(), botID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if len(detail.Tasks) != 0 {
		t.Errorf("Tasks = %+v, want none", detail.Tasks)
	}
	if detail.LastLog != "" {
		t.Errorf("LastLog = %q, want empty", detail.LastLog)
	}
}

func TestStatusSnapshot(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	_, botID := seedTracker(t, st)
	if _, err := st.CreateTask(ctx, botID, types.StatusWorking); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	snap, err := rd.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Trackers != 1 {
		t.Errorf("Trackers = %d, want 1", snap.Trackers)
	}
	if snap.Alive != 1 {
		t.Errorf("Alive = %d, want 1", snap.Alive)
	}
	if len(snap.Bots) != 1 || snap.Bots[0].Family != "demofam" || snap.Bots[0].Status != "new" {
		t.Errorf("Bots = %+v, want one new demofam cell", snap.Bots)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Status != "working" {
		t.Errorf("Tasks = %+v, want one working cell", snap.Tasks)
	}
	if len(snap.RecentTasks) != 1 {
		t.Errorf("RecentTasks = %+v, want one entry", snap.RecentTasks)
	}
	if snap.CollectedAt.IsZero() {
		t.Error("CollectedAt is zero")
	}
}

func TestResultsList(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	_, botID := seedTracker(t, st)
	taskID, err := st.CreateTask(ctx, botID, types.StatusWorking)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := st.CreateResult(ctx, types.Result{
		TaskID: taskID,
		Type:   types.ResultTypeBinary,
		Name:   "dropper.exe",
		SHA256: "aa11",
		Tags:   []string{"demofam"},
	}); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	items, err := rd.Results(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d results, want 1", len(items))
	}
	if items[0].Type != "binary" || items[0].Name != "dropper.exe" {
		t.Errorf("item = %+v", items[0])
	}
}

func TestProxiesList(t *testing.T) {
	rd, st, _ := newTestReader(t)
	ctx := context.Background()

	if _, err := st.SyncProxies(ctx, []types.ProxySpec{
		{Host: "10.0.0.1", Port: 1080, Country: "us"},
	}); err != nil {
		t.Fatalf("SyncProxies: %v", err)
	}

	items, err := rd.Proxies(ctx)
	if err != nil {
		t.Fatalf("Proxies: %v", err)
	}
	if len(items) != 1 || items[0].Country != "us" {
		t.Fatalf("items = %+v, want one us proxy", items)
	}
}
