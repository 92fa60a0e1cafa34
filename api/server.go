// Package api serves the REST control surface: config ingestion,
// tracker and bot administration, task and result browsing, proxy
// synchronisation and the monitoring endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justapithecus/stakeout/ingest"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/mwdb"
	"github.com/justapithecus/stakeout/proxy"
	"github.com/justapithecus/stakeout/scheduler"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/track"
	"github.com/justapithecus/stakeout/types"
)

// defaultListCount matches the page size the web frontend requests.
const defaultListCount = 10

// Options configures the optional collaborators of a Server.
type Options struct {
	// LogDir is where the executor writes per-task log files.
	LogDir string
	// Proxies loads the proxy pool for the update endpoint. Nil
	// disables synchronisation.
	Proxies *proxy.Source
	// Repo resolves configs for the legacy ingest path. Nil disables it.
	Repo mwdb.Client
}

// Server handles the HTTP API against the store and the job pipeline.
type Server struct {
	store     store.Store
	ingest    *ingest.Service
	scheduler *scheduler.Scheduler
	repo      mwdb.Client
	proxies   *proxy.Source
	log       *log.Logger
	logDir    string
}

// New wires the API server to its collaborators.
func New(st store.Store, ing *ingest.Service, sched *scheduler.Scheduler, opts Options) *Server {
	logDir := opts.LogDir
	if logDir == "" {
		logDir = track.DefaultLogDir
	}
	return &Server{
		store:     st,
		ingest:    ing,
		scheduler: sched,
		repo:      opts.Repo,
		proxies:   opts.Proxies,
		log:       log.New("api"),
		logDir:    logDir,
	}
}

// Router builds the chi router with every endpoint mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Route("/api", func(r chi.Router) {
		r.Post("/trackers", s.handleTrackConfig)
		r.Get("/trackers", s.handleListTrackers)
		r.Get("/trackers/{trackerID}", s.handleGetTracker)
		r.Post("/trackers/{trackerID}", s.handleTrackerAction)

		r.Get("/bots", s.handleListBots)
		r.Get("/bots/{botID}", s.handleGetBot)
		r.Post("/bots/{botID}", s.handleBotAction)
		r.Get("/bots/{botID}/tasks", s.handleBotTasks)
		r.Get("/bots/{botID}/log", s.handleBotLastLog)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Get("/tasks/{taskID}/log", s.handleTaskLog)

		r.Get("/results", s.handleListResults)

		r.Get("/proxies", s.handleListProxies)
		r.Post("/proxies/update", s.handleUpdateProxies)

		r.Get("/heartbeat", s.handleHeartbeat)
	})
	r.Post("/track/{dhash}", s.handleTrackLegacy)
	r.Get("/varz", s.handleVarz)
	return r
}

// Serve blocks serving the API until the listener fails or ctx is
// cancelled, which drains in-flight requests and returns nil.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("api listening", map[string]any{"addr": addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("api stopped", nil)
	return nil
}

// requestLog records one line per handled request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request", map[string]any{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  ww.Status(),
			"elapsed": time.Since(start).String(),
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encoding response failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// internalError hides the failure detail from the client; the log
// keeps it.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"error":  err.Error(),
	})
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// storeError maps a store failure onto 404 or 500.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.notFound(w)
		return
	}
	s.internalError(w, r, err)
}

// pathID parses the named integer segment of the route.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// listFilter assembles the shared status/family/start/count query
// parameters into a store filter.
func listFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	filter := store.ListFilter{Limit: defaultListCount}

	if raw := q.Get("status"); raw != "" {
		status, err := types.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	filter.Family = q.Get("family")
	if raw := q.Get("start"); raw != "" {
		start, err := strconv.Atoi(raw)
		if err != nil || start < 0 {
			return filter, errors.New("invalid start")
		}
		filter.Offset = start
	}
	if raw := q.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 {
			return filter, errors.New("invalid count")
		}
		filter.Limit = count
	}
	return filter, nil
}
