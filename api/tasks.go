package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/justapithecus/stakeout/track"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	tasks, err := s.store.Tasks(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewTasks(tasks))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	task, err := s.store.TaskByID(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewTask(task))
}

func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	content, err := os.ReadFile(track.LogPath(s.logDir, id))
	if errors.Is(err, os.ErrNotExist) {
		s.notFound(w)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"data": string(content)})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	results, err := s.store.Results(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewResults(results))
}
