package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/justapithecus/stakeout/ingest"
	"github.com/justapithecus/stakeout/mwdb"
	"github.com/justapithecus/stakeout/types"
)

var errUnknownAction = errors.New("unknown action")

// applyAction runs one administrative verb over the given bots.
func (s *Server) applyAction(ctx context.Context, action string, botIDs []int64) error {
	switch action {
	case "resetSpree":
		return s.store.ClearFailingSprees(ctx, botIDs)
	case "archive":
		return s.store.SetBotStatuses(ctx, botIDs, types.StatusArchived)
	case "revive":
		return s.store.ReviveBots(ctx, botIDs)
	case "rerun":
		for _, id := range botIDs {
			if err := s.scheduler.RunBotTask(ctx, id); err != nil {
				return err
			}
		}
		return nil
	}
	return errUnknownAction
}

// decodeAction reads the {"action": ...} request body.
func decodeAction(r *http.Request) (string, error) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", errors.New("invalid request body")
	}
	if body.Action == "" {
		return "", errors.New("missing action")
	}
	return body.Action, nil
}

// track runs the ingest and maps its user-visible failures to 400.
func (s *Server) track(w http.ResponseWriter, r *http.Request, family string, config map[string]any) {
	res, err := s.ingest.Track(r.Context(), family, config)
	switch {
	case errors.Is(err, ingest.ErrUnknownFamily):
		s.badRequest(w, "unsupported family")
	case errors.Is(err, ingest.ErrNoProxies):
		s.badRequest(w, "proxy pool is empty")
	case err != nil:
		s.internalError(w, r, err)
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

// handleTrackConfig ingests a config posted as {"config": {...}}. The
// family comes from the config's type key, falling back to the legacy
// family key.
func (s *Server) handleTrackConfig(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body struct {
		Config map[string]any `json:"config"`
	}
	if err := dec.Decode(&body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if len(body.Config) == 0 {
		s.badRequest(w, "missing config")
		return
	}

	family, _ := body.Config["type"].(string)
	if family == "" {
		family, _ = body.Config["family"].(string)
	}
	if family == "" {
		s.badRequest(w, "config has no family")
		return
	}
	s.track(w, r, family, body.Config)
}

var dhashPattern = regexp.MustCompile(`^[a-f0-9]+$`)

// handleTrackLegacy ingests a config already stored in the repository,
// looked up by its hash.
func (s *Server) handleTrackLegacy(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		s.internalError(w, r, errors.New("repository client not configured"))
		return
	}
	dhash := strings.ToLower(chi.URLParam(r, "dhash"))
	if !dhashPattern.MatchString(dhash) {
		s.badRequest(w, "invalid config hash")
		return
	}

	stored, err := s.repo.ConfigByHash(r.Context(), dhash)
	if errors.Is(err, mwdb.ErrObjectNotFound) {
		s.badRequest(w, "config does not exist")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if stored.Type != "static" {
		s.badRequest(w, "not a static config")
		return
	}

	family := stored.Family
	if family == "" {
		family, _ = stored.Config["type"].(string)
	}
	s.track(w, r, family, stored.Config)
}

func (s *Server) handleListTrackers(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	trackers, err := s.store.Trackers(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	out := make([]trackerDetail, 0, len(trackers))
	for i := range trackers {
		bots, err := s.store.BotsByTracker(r.Context(), trackers[i].TrackerID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		out = append(out, viewTrackerDetail(&trackers[i], bots))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTracker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "trackerID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	tracker, err := s.store.TrackerByID(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	bots, err := s.store.BotsByTracker(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewTrackerDetail(tracker, bots))
}

// handleTrackerAction applies one verb to every bot of the tracker.
func (s *Server) handleTrackerAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "trackerID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	action, err := decodeAction(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if _, err := s.store.TrackerByID(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	bots, err := s.store.BotsByTracker(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	botIDs := make([]int64, 0, len(bots))
	for _, b := range bots {
		botIDs = append(botIDs, b.BotID)
	}

	if err := s.applyAction(r.Context(), action, botIDs); err != nil {
		if errors.Is(err, errUnknownAction) {
			s.badRequest(w, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{})
}
