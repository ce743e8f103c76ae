package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"panostitch/internal/pipeline"
	"panostitch/internal/storage"
)

// JobRunner accepts jobs and publishes their results.
type JobRunner interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Server exposes the job store and pipeline over HTTP.
type Server struct {
	addr      string
	store     *storage.Store
	pipeline  JobRunner
	jwtSecret string
	log       *slog.Logger
	upgrader  websocket.Upgrader
	server    *http.Server
}

// NewServer creates a server. An empty jwtSecret leaves POST /jobs open.
func NewServer(addr string, store *storage.Store, pipe JobRunner, jwtSecret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:      addr,
		store:     store,
		pipeline:  pipe,
		jwtSecret: jwtSecret,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr, "auth", s.jwtSecret != "")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.requireToken(s.handleSubmit)).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// JobDetail is the GET /jobs/{id} payload.
type JobDetail struct {
	storage.JobRecord
	Meta       map[string]any          `json:"meta,omitempty"`
	Alignments []storage.PairAlignment `json:"alignments,omitempty"`
	Images     []storage.ImageMetadata `json:"images,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	detail := JobDetail{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		detail.Meta = meta
	}
	if aligns, err := s.store.Alignments(id); err == nil {
		detail.Alignments = aligns
	}
	if images, err := s.store.ImageMetadataFor(id); err == nil {
		detail.Images = images
	}
	writeJSON(w, http.StatusOK, detail)
}

// SubmitRequest is the POST /jobs body.
type SubmitRequest struct {
	Type      string         `json:"type"`
	Input     string         `json:"input"`
	FocalFile string         `json:"focalFile"`
	Output    string         `json:"output"`
	Options   map[string]any `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	jobType := pipeline.JobType(req.Type)
	if jobType == "" {
		jobType = pipeline.JobStitch
	}
	if jobType != pipeline.JobStitch && jobType != pipeline.JobScan {
		http.Error(w, "unsupported job type", http.StatusBadRequest)
		return
	}

	opts := req.Options
	if opts == nil {
		opts = map[string]any{}
	}
	if req.FocalFile != "" {
		opts[pipeline.OptFocalFile] = req.FocalFile
	}
	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   opts,
	}
	if err := s.pipeline.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.Info("job accepted", "id", job.ID, "type", job.Type, "input", job.InputPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "queued"})
}

// Event is the streamed form of a pipeline result.
type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func eventFrom(res pipeline.Result) Event {
	ev := Event{ID: res.Job.ID, Type: string(res.Job.Type), Status: "completed", Meta: res.Meta}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
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
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(eventFrom(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	// Reads only detect the client going away.
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
		case res, ok := <-resCh:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pipeline stopped"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(eventFrom(res)); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
