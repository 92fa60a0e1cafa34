package reader

import (
	"time"

	"github.com/justapithecus/stakeout/types"
)

// TrackerItem is one row of stakeout list trackers.
type TrackerItem struct {
	TrackerID int64  `json:"tracker_id"`
	Name      string `json:"name"`
	Family    string `json:"family"`
	Status    string `json:"status"`
	Bots      int    `json:"bots"`
}

// BotItem is one row of stakeout list bots.
type BotItem struct {
	BotID         int64      `json:"bot_id"`
	TrackerID     int64      `json:"tracker_id"`
	Family        string     `json:"family"`
	Country       string     `json:"country"`
	Status        string     `json:"status"`
	FailingSpree  int        `json:"failing_spree"`
	NextExecution *time.Time `json:"next_execution"`
	LastError     string     `json:"last_error,omitempty"`
}

// TaskItem is one row of stakeout list tasks.
type TaskItem struct {
	TaskID     int64     `json:"task_id"`
	BotID      int64     `json:"bot_id"`
	Family     string    `json:"family"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	FailReason string    `json:"fail_reason,omitempty"`
	Results    int       `json:"results"`
}

// ResultItem is one row of stakeout list results.
type ResultItem struct {
	ResultID   int64     `json:"result_id"`
	TaskID     int64     `json:"task_id"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	SHA256     string    `json:"sha256"`
	Tags       []string  `json:"tags"`
	UploadTime time.Time `json:"upload_time"`
}

// ProxyItem is one row of stakeout list proxies.
type ProxyItem struct {
	ProxyID int64  `json:"proxy_id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Country string `json:"country"`
}

// TrackerDetail is the payload of stakeout inspect tracker.
type TrackerDetail struct {
	TrackerID  int64          `json:"tracker_id"`
	Name       string         `json:"name"`
	Family     string         `json:"family"`
	Status     string         `json:"status"`
	ConfigHash string         `json:"config_hash"`
	Config     map[string]any `json:"config"`
	Bots       []BotItem      `json:"bots"`
}

// BotDetail is the payload of stakeout inspect bot. Tasks holds the
// most recent tasks and LastLog the execution log of the newest one.
type BotDetail struct {
	BotID         int64          `json:"bot_id"`
	TrackerID     int64          `json:"tracker_id"`
	TrackerName   string         `json:"tracker_name"`
	Family        string         `json:"family"`
	Country       string         `json:"country"`
	Status        string         `json:"status"`
	FailingSpree  int            `json:"failing_spree"`
	NextExecution *time.Time     `json:"next_execution"`
	LastError     string         `json:"last_error,omitempty"`
	State         map[string]any `json:"state"`
	Tasks         []TaskItem     `json:"tasks"`
	LastLog       string         `json:"last_log,omitempty"`
}

// FamilyCell is one cell of the bots-per-family-and-status grid.
type FamilyCell struct {
	Family string `json:"family"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatusCell is one cell of the tasks-per-status breakdown.
type StatusCell struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatusSnapshot is one poll of the pipeline gauges, consumed by both
// stakeout status and the live dashboard.
type StatusSnapshot struct {
	Trackers    int          `json:"trackers"`
	Alive       int          `json:"alive"`
	Progress    int          `json:"progress"`
	Failing     int          `json:"failing"`
	Crashed     int          `json:"crashed"`
	Archived    int          `json:"archived"`
	Bots        []FamilyCell `json:"bots"`
	Tasks       []StatusCell `json:"tasks"`
	RecentTasks []TaskItem   `json:"recent_tasks"`
	CollectedAt time.Time    `json:"collected_at"`
}

func trackerItem(t *types.Tracker, bots int) TrackerItem {
	return TrackerItem{
		TrackerID: t.TrackerID,
		Name:      t.Name(),
		Family:    t.Family,
		Status:    t.Status.String(),
		Bots:      bots,
	}
}

func botItem(b *types.Bot) BotItem {
	return BotItem{
		BotID:         b.BotID,
		TrackerID:     b.TrackerID,
		Family:        b.Family,
		Country:       b.Country,
		Status:        b.Status.String(),
		FailingSpree:  b.FailingSpree,
		NextExecution: b.NextExecution,
		LastError:     b.LastError,
	}
}

func taskItem(v *types.TaskView) TaskItem {
	return TaskItem{
		TaskID:     v.TaskID,
		BotID:      v.BotID,
		Family:     v.Family,
		Status:     v.Status.String(),
		StartTime:  v.ReportTime,
		FailReason: v.FailReason,
		Results:    v.ResultsNo,
	}
}

func resultItem(r *types.Result) ResultItem {
	return ResultItem{
		ResultID:   r.ResultID,
		TaskID:     r.TaskID,
		Type:       string(r.Type),
		Name:       r.Name,
		SHA256:     r.SHA256,
		Tags:       r.Tags,
		UploadTime: r.UploadTime,
	}
}

func proxyItem(p *types.Proxy) ProxyItem {
	return ProxyItem{
		ProxyID: p.ProxyID,
		Host:    p.Host,
		Port:    p.Port,
		Country: p.Country,
	}
}
