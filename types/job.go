//nolint:revive // types is a common Go package naming convention
package types

// Queue payloads exchanged between the scheduler and the workers. All
// payloads carry msgpack tags for the broker wire format and json tags
// for the inspection endpoints.

// TrackArgs is the payload of a job on the track queue.
type TrackArgs struct {
	// StaticConfig is the tracker config with its hash stamped in
	// under the _id key.
	StaticConfig map[string]any `msgpack:"static_config" json:"static_config"`
	// SavedState is the bot state captured after the previous run.
	SavedState map[string]any `msgpack:"saved_state" json:"saved_state"`
	// Proxy is the socks5h connection URL selected for this run.
	Proxy  string `msgpack:"proxy" json:"proxy"`
	BotID  int64  `msgpack:"bot_id" json:"bot_id"`
	TaskID int64  `msgpack:"task_id" json:"task_id"`
}

// TrackReturn is the stored outcome of a finished track job. The report
// job reads it through the broker once the track job completes.
type TrackReturn struct {
	// Status is the task status the run resolved to.
	Status Status `msgpack:"status" json:"status"`
	// Results is the result tree in transport form.
	Results map[string]any `msgpack:"results" json:"results"`
	// State is the bot state to carry into the next run.
	State map[string]any `msgpack:"state" json:"state"`
}

// ReportArgs is the payload of a job on the report queue.
type ReportArgs struct {
	BotID int64 `msgpack:"bot_id" json:"bot_id"`
	// ConfigHash is the tracker config hash the results hang under.
	ConfigHash string `msgpack:"config_hash" json:"config_hash"`
	// TrackerJobID is the broker id of the track job whose return
	// value this report consumes.
	TrackerJobID string `msgpack:"tracker_job_id" json:"tracker_job_id"`
	TaskID       int64  `msgpack:"task_id" json:"task_id"`
}
