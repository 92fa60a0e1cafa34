package api

import (
	"time"

	"github.com/justapithecus/stakeout/types"
)

// The view types pin the JSON field names the web frontend consumes.
// Identifiers stay numeric, statuses render as their lowercase labels
// and times as RFC 3339.

type trackerView struct {
	TrackerID int64        `json:"trackerId"`
	MwdbID    string       `json:"mwdbId"`
	Name      string       `json:"name"`
	Status    types.Status `json:"status"`
}

type trackerDetail struct {
	trackerView
	Bots []botView `json:"bots"`
}

type botView struct {
	BotID         int64          `json:"botId"`
	TrackerID     int64          `json:"trackerId"`
	TrackerName   string         `json:"trackerName"`
	FailingSpree  int            `json:"failingSpree"`
	Status        types.Status   `json:"status"`
	ProxyCountry  string         `json:"proxyCountry"`
	Running       bool           `json:"running"`
	NextExecution *time.Time     `json:"nextExecution"`
	LastError     string         `json:"lastError"`
	State         map[string]any `json:"state"`
}

type taskView struct {
	TaskID     int64        `json:"taskId"`
	BotID      int64        `json:"botId"`
	StartTime  time.Time    `json:"startTime"`
	Status     types.Status `json:"status"`
	Family     string       `json:"family"`
	FailReason string       `json:"failReason"`
	ResultsNo  int          `json:"resultsNo"`
}

type resultView struct {
	ResultID   int64            `json:"resultId"`
	TaskID     int64            `json:"taskId"`
	ResultType types.ResultType `json:"resultType"`
	SHA256     string           `json:"sha256"`
	Name       string           `json:"name"`
	Tags       []string         `json:"tags"`
	UploadTime time.Time        `json:"uploadTime"`
}

type proxyView struct {
	ProxyID  int64  `json:"proxyId"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Country  string `json:"country"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func viewTracker(t *types.Tracker) trackerView {
	return trackerView{
		TrackerID: t.TrackerID,
		MwdbID:    t.ConfigHash,
		Name:      t.Name(),
		Status:    t.Status,
	}
}

func viewTrackerDetail(t *types.Tracker, bots []types.Bot) trackerDetail {
	return trackerDetail{trackerView: viewTracker(t), Bots: viewBots(bots)}
}

func viewBot(b *types.Bot) botView {
	return botView{
		BotID:         b.BotID,
		TrackerID:     b.TrackerID,
		TrackerName:   (&types.Tracker{TrackerID: b.TrackerID, Family: b.Family}).Name(),
		FailingSpree:  b.FailingSpree,
		Status:        b.Status,
		ProxyCountry:  b.Country,
		Running:       b.Status == types.StatusInProgress,
		NextExecution: b.NextExecution,
		LastError:     b.LastError,
		State:         b.State,
	}
}

func viewBots(bots []types.Bot) []botView {
	out := make([]botView, 0, len(bots))
	for i := range bots {
		out = append(out, viewBot(&bots[i]))
	}
	return out
}

func viewTask(t *types.TaskView) taskView {
	return taskView{
		TaskID:     t.TaskID,
		BotID:      t.BotID,
		StartTime:  t.ReportTime,
		Status:     t.Status,
		Family:     t.Family,
		FailReason: t.FailReason,
		ResultsNo:  t.ResultsNo,
	}
}

func viewTasks(tasks []types.TaskView) []taskView {
	out := make([]taskView, 0, len(tasks))
	for i := range tasks {
		out = append(out, viewTask(&tasks[i]))
	}
	return out
}

func viewResult(r *types.Result) resultView {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return resultView{
		ResultID:   r.ResultID,
		TaskID:     r.TaskID,
		ResultType: r.Type,
		SHA256:     r.SHA256,
		Name:       r.Name,
		Tags:       tags,
		UploadTime: r.UploadTime,
	}
}

func viewResults(results []types.Result) []resultView {
	out := make([]resultView, 0, len(results))
	for i := range results {
		out = append(out, viewResult(&results[i]))
	}
	return out
}

func viewProxies(proxies []types.Proxy) []proxyView {
	out := make([]proxyView, 0, len(proxies))
	for _, p := range proxies {
		out = append(out, proxyView{
			ProxyID:  p.ProxyID,
			Host:     p.Host,
			Port:     p.Port,
			Country:  p.Country,
			Username: p.Username,
			Password: p.Password,
		})
	}
	return out
}
