// Package ingest turns a static config into tracking work: one tracker
// row identified by the config's deterministic hash, and one bot per
// proxy exit country the config's family may run from.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/notify"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/types"
)

// ErrUnknownFamily rejects configs whose family has no registered
// tracking module.
var ErrUnknownFamily = errors.New("ingest: unknown family")

// ErrNoProxies rejects tracking requests while the proxy pool is
// empty. Accepting one would create a tracker nothing can ever run.
var ErrNoProxies = errors.New("ingest: proxy pool is empty")

// Result reports what one Track call did to the database. BotIDs
// covers every bot of the tracker, pre-existing and freshly created.
type Result struct {
	// New is true when the call created the tracker row.
	New bool `json:"new"`
	// TrackerID identifies the tracker, created or found by hash.
	TrackerID int64 `json:"trackerId"`
	// BotIDs lists all bots attached to the tracker.
	BotIDs []int64 `json:"botIds"`
}

// Service registers static configs for tracking.
type Service struct {
	store    store.Store
	registry *modules.Registry
	notifier notify.Notifier
	log      *log.Logger
}

// New builds an ingest service. A nil notifier silences tracker
// creation events.
func New(st store.Store, registry *modules.Registry, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		store:    st,
		registry: registry,
		notifier: notifier,
		log:      log.New("ingest"),
	}
}

// Track registers a static config under the given family. Repeated
// calls with the same config land on the same tracker and only create
// bots for proxy countries that gained coverage since the last call.
func (s *Service) Track(ctx context.Context, family string, config map[string]any) (*Result, error) {
	desc, ok := s.registry.Get(family)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	configHash := types.ConfigDhash(config)
	s.log.Info("tracking config", map[string]any{
		"family":      family,
		"config_hash": configHash,
	})

	res := &Result{BotIDs: []int64{}}
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		pool, err := tx.ProxiesByCountry(ctx)
		if err != nil {
			return fmt.Errorf("load proxy pool: %w", err)
		}
		if len(pool) == 0 {
			return ErrNoProxies
		}

		covered := make(map[string]bool)
		tracker, err := tx.TrackerByHash(ctx, configHash)
		switch {
		case err == nil:
			res.TrackerID = tracker.TrackerID
			bots, err := tx.BotsByTracker(ctx, tracker.TrackerID)
			if err != nil {
				return fmt.Errorf("load tracker bots: %w", err)
			}
			for _, b := range bots {
				res.BotIDs = append(res.BotIDs, b.BotID)
				covered[b.Country] = true
			}
		case errors.Is(err, store.ErrNotFound):
			res.New = true
			res.TrackerID, err = tx.CreateTracker(ctx, configHash, config, family)
			if err != nil {
				return fmt.Errorf("create tracker: %w", err)
			}
		default:
			return fmt.Errorf("look up tracker: %w", err)
		}

		for _, country := range sortedCountries(pool) {
			if covered[country] {
				continue
			}
			if !desc.AllowsCountry(country) {
				s.log.Debug("country not whitelisted for family", map[string]any{
					"family":  family,
					"country": country,
				})
				continue
			}
			botID, err := tx.CreateBot(ctx, res.TrackerID, country, family)
			if err != nil {
				return fmt.Errorf("create bot for %s: %w", country, err)
			}
			res.BotIDs = append(res.BotIDs, botID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.New {
		if err := s.notifier.Notify(ctx, notify.TrackerCreated(res.TrackerID, family, configHash)); err != nil {
			s.log.Warn("tracker creation event dropped", map[string]any{
				"tracker_id": res.TrackerID,
				"error":      err.Error(),
			})
		}
	}
	s.log.Info("config tracked", map[string]any{
		"tracker_id": res.TrackerID,
		"new":        res.New,
		"bots":       len(res.BotIDs),
	})
	return res, nil
}

// sortedCountries keeps bot fan-out deterministic across calls.
func sortedCountries(pool map[string][]types.Proxy) []string {
	countries := make([]string, 0, len(pool))
	for country := range pool {
		countries = append(countries, country)
	}
	sort.Strings(countries)
	return countries
}
