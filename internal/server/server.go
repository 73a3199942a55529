package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"panokit/internal/config"
	"panokit/internal/pipeline"
	"panokit/internal/storage"
	"panokit/internal/tasks"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server exposes the pipeline and the run history over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	cfg      *config.Config
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a server listening on addr.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, cfg *config.Config, log *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/project", s.handleProject).Methods("GET")
	api.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	api.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	api.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Serve runs a server with default settings.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe *pipeline.Pipeline, cfg *config.Config, log *slog.Logger) error {
	return NewServer(addr, store, pipe, cfg, log).Start(ctx)
}

// JobRequest is the body of POST /api/jobs.
type JobRequest struct {
	Type    string         `json:"type"`
	Project string         `json:"project"`
	Output  string         `json:"output,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// JobEvent is a finished job as sent to stream subscribers.
type JobEvent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Project string         `json:"project"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func eventFromResult(res pipeline.Result) JobEvent {
	ev := JobEvent{
		ID:      res.Job.ID,
		Type:    string(res.Job.Type),
		Project: res.Job.InputPath,
		Status:  "completed",
		Meta:    res.Meta,
	}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pending": s.pipeline.Pending()})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing path"))
		return
	}
	p, err := tasks.LoadProject(path, s.log)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.ProjectInfo(p, s.cfg.Stacks.EVTolerance))
}

func validJobType(t pipeline.JobType) bool {
	switch t {
	case pipeline.JobStitch, pipeline.JobFindPoints, pipeline.JobOptimalROI, pipeline.JobInfo:
		return true
	}
	return false
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobType(req.Type),
		InputPath: req.Project,
		Output:    req.Output,
		Options:   req.Options,
	}
	if !validJobType(job.Type) {
		writeError(w, http.StatusBadRequest, errors.New("unknown job type "+strconv.Quote(req.Type)))
		return
	}
	if job.InputPath == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing project"))
		return
	}
	if err := s.pipeline.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	s.log.Info("job submitted", "job", job.ID, "type", job.Type, "project", job.InputPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "queued"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"run": rec}
	if meta, err := s.store.RunMeta(id); err == nil {
		resp["meta"] = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(eventFromResult(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// handleWebSocket streams every finished job as a JSON JobEvent. The
// subscription is taken before the upgrade so no result is lost between
// the handshake and the first read.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pipeline stopped"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(eventFromResult(res)); err != nil {
				s.log.Debug("websocket client gone", "error", err)
				return
			}
		}
	}
}
