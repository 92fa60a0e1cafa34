// Package modules defines the tracker module contract and the registry
// the pipeline resolves families through.
//
// A module emulates one bot of a malware family. The executor builds a
// module from its registered descriptor, asks it for C2 servers and
// runs it against each server in turn, folding the per-server results
// into a final task status. Families register explicitly at startup;
// there is no scanning of module directories.
package modules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

// CNC is one command and control endpoint. The string form is family
// specific: a URL, a host:port pair, or an opaque peer identifier.
type CNC string

// Env is everything a module instance receives at construction.
type Env struct {
	// Family is the registered family name the module runs as.
	Family string
	// Config is the tracker's static config.
	Config map[string]any
	// State is the bot state saved after the previous run. Mutations
	// are carried into the next run through the task result.
	State map[string]any
	// ProxyURL is the socks5h connection URL module traffic must use.
	// Empty disables proxying, which only local runs do.
	ProxyURL string
	// HTTPTimeout is the default timeout for module HTTP calls.
	HTTPTimeout time.Duration
	// Log writes to the per-task log file.
	Log *log.Logger
}

// Module is a single bot emulation bound to one config and one proxy.
type Module interface {
	// CNCServers lists the C2 endpoints to try, in order. An error
	// here crashes the task.
	CNCServers() ([]CNC, error)
	// Run contacts one C2. Errors are soft: the executor logs them
	// and moves on to the next server.
	Run(ctx context.Context, c2 CNC) (types.BotResult, error)
	// State returns the bot state to persist for the next run.
	State() map[string]any
	// Results returns the artifact tree accumulated so far.
	Results() *results.Node
}

// Descriptor declares a family to the registry.
type Descriptor struct {
	// Family is the unique family name, matching the config's type.
	Family string
	// CriticalParams lists config keys the family cannot run without.
	// A tracker missing any of them is archived instead of run.
	CriticalParams []string
	// ProxyWhitelist lists the proxy countries the family may run
	// from. Empty means any country.
	ProxyWhitelist []string
	// New builds a module instance for one task.
	New func(Env) (Module, error)
}

// MissingCriticalParams returns the critical params absent from config.
func (d Descriptor) MissingCriticalParams(config map[string]any) []string {
	var missing []string
	for _, param := range d.CriticalParams {
		if _, ok := config[param]; !ok {
			missing = append(missing, param)
		}
	}
	return missing
}

// AllowsCountry reports whether the family may run through a proxy
// exiting in the given country.
func (d Descriptor) AllowsCountry(country string) bool {
	if len(d.ProxyWhitelist) == 0 {
		return true
	}
	for _, c := range d.ProxyWhitelist {
		if c == country {
			return true
		}
	}
	return false
}

// Registry maps family names to module descriptors. Safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: map[string]Descriptor{}}
}

// Register adds a family. Registering a duplicate or an incomplete
// descriptor is an error.
func (r *Registry) Register(d Descriptor) error {
	if d.Family == "" {
		return fmt.Errorf("descriptor has no family name")
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %q has no constructor", d.Family)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.families[d.Family]; exists {
		return fmt.Errorf("family %q already registered", d.Family)
	}
	r.families[d.Family] = d
	return nil
}

// MustRegister is Register for static initialisation, panicking on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get looks up a family descriptor.
func (r *Registry) Get(family string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.families[family]
	return d, ok
}

// Families returns the registered family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all registered descriptors, sorted by family.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.families))
	for _, d := range r.families {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

// Execute runs a module against each of its C2 servers and folds the
// per-server results into a final task status.
//
// A run that reports working marks the whole task working, and one
// that reports archive wins over working. Run errors and panics count
// as a soft fail for that server only. Without the continue flag the
// loop stops after the first server that answered.
func Execute(ctx context.Context, m Module, logger *log.Logger, collector *metrics.Collector) (types.Status, error) {
	servers, err := m.CNCServers()
	if err != nil {
		return 0, fmt.Errorf("get cnc servers: %w", err)
	}

	var working, archive bool
	for _, c2 := range servers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		logger.Info("running module", map[string]any{"c2": string(c2)})
		result, err := runRecovered(ctx, m, c2)
		if err != nil {
			collector.IncRunError()
			logger.Error("run failed", map[string]any{"c2": string(c2), "error": err.Error()})
			continue
		}

		if result.Has(types.ResultWorking) {
			working = true
			logger.Info("found config", map[string]any{"c2": string(c2)})
		}
		if result.Has(types.ResultArchive) {
			archive = true
		}
		if !result.Has(types.ResultContinue) {
			break
		}
	}

	switch {
	case archive:
		return types.StatusArchived, nil
	case working:
		return types.StatusWorking, nil
	default:
		return types.StatusFailing, nil
	}
}

// runRecovered shields the fold loop from a panicking module: a panic in Run
// counts as a failed attempt against that C2, not a crash of the whole task.
func runRecovered(ctx context.Context, m Module, c2 CNC) (result types.BotResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = 0
			err = fmt.Errorf("modules: run panicked: %v", r)
		}
	}()
	return m.Run(ctx, c2)
}
