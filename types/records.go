//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// Tracker is a tracked malware configuration and its derived status.
type Tracker struct {
	// TrackerID is the database identifier.
	TrackerID int64
	// ConfigHash is the content hash of the static config, shared with
	// the malware repository as the config's external identifier.
	ConfigHash string
	// Config is the decoded static config.
	Config map[string]any
	// Family is the malware family label, taken from the config's type.
	Family string
	// Status is derived as the minimum over the tracker's bot statuses.
	Status Status
}

// Name is the display name used by the API and the CLI.
func (t *Tracker) Name() string {
	return fmt.Sprintf("%d_%s", t.TrackerID, t.Family)
}

// Bot is a single emulated client of a tracker, bound to an exit country.
type Bot struct {
	BotID     int64
	TrackerID int64
	Status    Status
	// State is module-defined state carried between executions.
	State map[string]any
	// FailingSpree counts consecutive failing runs. Reaching the
	// configured maximum archives the bot.
	FailingSpree int
	// NextExecution is when the scheduler should run the bot again.
	// Nil means the bot is immediately due.
	NextExecution *time.Time
	// Country is the ISO 3166 alpha-2 code the bot's proxy must match.
	Country   string
	LastError string
	Family    string
}

// Task is one scheduled execution of a bot.
type Task struct {
	TaskID     int64
	BotID      int64
	Status     Status
	ReportTime time.Time
	// Logs is the worker log transcript column. The live log is written
	// to a per-task file; see LogPath on the executor side.
	Logs string
}

// TaskView is a task joined with its bot's family and last error plus
// the number of results the task produced.
type TaskView struct {
	Task
	Family     string
	FailReason string
	ResultsNo  int
}

// ResultType discriminates rows in the results table.
type ResultType string

const (
	ResultTypeConfig ResultType = "config"
	ResultTypeBinary ResultType = "binary"
	ResultTypeBlob   ResultType = "blob"
)

// Result records one artifact uploaded to the malware repository.
type Result struct {
	ResultID   int64
	TaskID     int64
	Type       ResultType
	Name       string
	SHA256     string
	Tags       []string
	UploadTime time.Time
}

// Proxy is a SOCKS exit the pipeline routes module traffic through.
type Proxy struct {
	ProxyID int64  `json:"proxy_id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	// Country is the ISO 3166 alpha-2 code of the proxy's exit.
	Country  string `json:"country"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConnectionString builds the socks5h URL modules dial through.
// The h variant resolves hostnames on the proxy side, which keeps DNS
// queries off the local network.
func (p *Proxy) ConnectionString() string {
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("socks5h://%s:%s@%s:%d", p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("socks5h://%s:%d", p.Host, p.Port)
}

// Validate checks the fields needed to build a dialable endpoint.
func (p *Proxy) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("proxy host is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid proxy port %d: must be between 1 and 65535", p.Port)
	}
	if (p.Username != "") != (p.Password != "") {
		return fmt.Errorf("proxy username and password must be provided together")
	}
	return nil
}

// Spec returns the proxy's identity independent of its database id.
// Synchronisation diffs the stored set against a source by spec equality.
func (p *Proxy) Spec() ProxySpec {
	return ProxySpec{
		Host:     p.Host,
		Port:     p.Port,
		Country:  p.Country,
		Username: p.Username,
		Password: p.Password,
	}
}

// ProxySpec is the comparable identity of a proxy.
type ProxySpec struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Country  string `json:"country"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProxyChanges reports the effect of one proxy synchronisation run:
// the entries inserted and the entries removed.
type ProxyChanges struct {
	Added   []ProxySpec `json:"added"`
	Deleted []ProxySpec `json:"deleted"`
}

// TrackerWithBots bundles a tracker with its bots for detail views.
type TrackerWithBots struct {
	Tracker
	Bots []Bot
}

// BotCounters aggregates bot statuses for the heartbeat endpoint.
// Alive counts both working and new bots.
type BotCounters struct {
	Alive    int `json:"alive"`
	Archived int `json:"archived"`
	Crashed  int `json:"crashed"`
	Failing  int `json:"failing"`
	Progress int `json:"progress"`
}

// FamilyStatusCount is one cell of the bots-by-family-and-status grid.
type FamilyStatusCount struct {
	Family string
	Status Status
	Count  int
}

// StatusCount is one cell of the tasks-by-status grid.
type StatusCount struct {
	Status Status
	Count  int
}

// ServiceMetrics is the snapshot served on the monitoring endpoint.
type ServiceMetrics struct {
	Bots     []FamilyStatusCount
	Tasks    []StatusCount
	Trackers int
}
