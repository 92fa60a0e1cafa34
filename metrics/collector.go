// Package metrics accumulates in-process counters for the tracking
// pipeline. The Collector is a leaf with no internal dependencies;
// workers and the scheduler log its snapshot on shutdown. Database
// gauges (bot and task counts) live in the store, not here.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Scheduler
	TasksScheduled int64
	NoProxyMisses  int64

	// Executor
	Executions int64
	RunErrors  int64
	Crashes    int64

	// Reporter
	Uploads      int64
	UploadErrors int64

	// Vault
	VaultStores int64
	VaultErrors int64

	// Queue worker
	JobsProcessed int64
	JobsFailed    int64

	// Component labels the process that produced the snapshot.
	Component string
}

// Collector accumulates pipeline counters. Thread-safe via
// sync.Mutex. All increment methods are nil-receiver safe, so
// components can run without metrics wired at all.
type Collector struct {
	mu sync.Mutex

	// Scheduler
	tasksScheduled int64
	noProxyMisses  int64

	// Executor
	executions int64
	runErrors  int64
	crashes    int64

	// Reporter
	uploads      int64
	uploadErrors int64

	// Vault
	vaultStores int64
	vaultErrors int64

	// Queue worker
	jobsProcessed int64
	jobsFailed    int64

	component string
}

// NewCollector creates a Collector labelled with the producing
// component, such as worker or scheduler.
func NewCollector(component string) *Collector {
	return &Collector{component: component}
}

// --- Scheduler ---

// IncTaskScheduled records one enqueued execute/report pair.
func (c *Collector) IncTaskScheduled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksScheduled++
	c.mu.Unlock()
}

// IncNoProxyMiss records a due bot skipped for lack of a proxy in its
// country.
func (c *Collector) IncNoProxyMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.noProxyMisses++
	c.mu.Unlock()
}

// --- Executor ---

// IncExecution records one module execution started.
func (c *Collector) IncExecution() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executions++
	c.mu.Unlock()
}

// IncRunError records a single C2 run that returned an error.
func (c *Collector) IncRunError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runErrors++
	c.mu.Unlock()
}

// IncCrash records a job crash caught by the failure handler.
func (c *Collector) IncCrash() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.crashes++
	c.mu.Unlock()
}

// --- Reporter ---

// IncUpload records one artifact pushed to the repository.
func (c *Collector) IncUpload() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploads++
	c.mu.Unlock()
}

// IncUploadError records a failed repository upload.
func (c *Collector) IncUploadError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadErrors++
	c.mu.Unlock()
}

// --- Vault ---

// IncVaultStore records one payload archived in the vault.
func (c *Collector) IncVaultStore() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.vaultStores++
	c.mu.Unlock()
}

// IncVaultError records a failed vault operation.
func (c *Collector) IncVaultError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.vaultErrors++
	c.mu.Unlock()
}

// --- Queue worker ---

// IncJobProcessed records one job handled to completion.
func (c *Collector) IncJobProcessed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobsProcessed++
	c.mu.Unlock()
}

// IncJobFailed records one job that ended in failure.
func (c *Collector) IncJobFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobsFailed++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of the counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		TasksScheduled: c.tasksScheduled,
		NoProxyMisses:  c.noProxyMisses,

		Executions: c.executions,
		RunErrors:  c.runErrors,
		Crashes:    c.crashes,

		Uploads:      c.uploads,
		UploadErrors: c.uploadErrors,

		VaultStores: c.vaultStores,
		VaultErrors: c.vaultErrors,

		JobsProcessed: c.jobsProcessed,
		JobsFailed:    c.jobsFailed,

		Component: c.component,
	}
}

// Fields renders the snapshot as a log fields map.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"component":       s.Component,
		"tasks_scheduled": s.TasksScheduled,
		"no_proxy_misses": s.NoProxyMisses,
		"executions":      s.Executions,
		"run_errors":      s.RunErrors,
		"crashes":         s.Crashes,
		"uploads":         s.Uploads,
		"upload_errors":   s.UploadErrors,
		"vault_stores":    s.VaultStores,
		"vault_errors":    s.VaultErrors,
		"jobs_processed":  s.JobsProcessed,
		"jobs_failed":     s.JobsFailed,
	}
}
