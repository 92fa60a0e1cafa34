package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/track"
)

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	bots, err := s.store.Bots(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewBots(bots))
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "botID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	bot, err := s.store.BotByID(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewBot(bot))
}

func (s *Server) handleBotAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "botID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	action, err := decodeAction(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if _, err := s.store.BotByID(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}

	if err := s.applyAction(r.Context(), action, []int64{id}); err != nil {
		if errors.Is(err, errUnknownAction) {
			s.badRequest(w, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleBotTasks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "botID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	filter, err := listFilter(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	tasks, err := s.store.TasksByBot(r.Context(), id, filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewTasks(tasks))
}

// handleBotLastLog serves the log file of the bot's most recent task.
// Both no-task and no-file answer with a placeholder instead of an
// error, which is what the log panel in the frontend expects.
func (s *Server) handleBotLastLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "botID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	tasks, err := s.store.TasksByBot(r.Context(), id, store.ListFilter{Limit: 1})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(tasks) == 0 {
		s.writeJSON(w, http.StatusOK, map[string]string{"data": "No historic tasks"})
		return
	}

	content, err := os.ReadFile(track.LogPath(s.logDir, tasks[0].TaskID))
	if errors.Is(err, os.ErrNotExist) {
		s.writeJSON(w, http.StatusOK, map[string]string{"data": "Log file does not exist"})
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"data": string(content)})
}
