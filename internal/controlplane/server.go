// Package controlplane serves one queue namespace over HTTP so workers on
// other hosts can lease and settle gaps.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/queue"
)

// Queue is the lease manager surface the server exposes.
type Queue interface {
	List(ctx context.Context) ([]models.GapItem, error)
	Get(ctx context.Context, id string) (*models.GapItem, error)
	Add(ctx context.Context, items []models.GapItem) (queue.AddResult, error)
	Lease(ctx context.Context, worker string, ttl time.Duration, priority []models.GapType) (*models.GapItem, error)
	Complete(ctx context.Context, id, worker string) error
	Release(ctx context.Context, id, worker string) error
	GC(ctx context.Context, pruneOlderThan time.Duration) (int, error)
	Histogram(ctx context.Context) (queue.Histogram, error)
}

// Server provides the HTTP API for a queue namespace.
type Server struct {
	queue      Queue
	namespace  string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(q Queue, namespace string, defaultTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		queue:      q,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/gaps", s.handleGaps)
	mux.HandleFunc("/gaps/", s.handleGapByID)
	mux.HandleFunc("/lease", s.handleLease)
	mux.HandleFunc("/gc", s.handleGC)
	mux.HandleFunc("/histogram", s.handleHistogram)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("Serving queue.", "addr", addr, "namespace", s.namespace)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK        bool   `json:"ok"`
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
	Time      string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:        true,
		Namespace: s.namespace,
		Queue:     "ok",
		Time:      time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if _, err := s.queue.Histogram(r.Context()); err != nil {
		resp.OK = false
		resp.Queue = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleGaps handles GET /gaps and POST /gaps
func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listGaps(w, r)
	case http.MethodPost:
		s.addGaps(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGapByID handles /gaps/{id}, /gaps/{id}/complete and /gaps/{id}/release.
// Ids may contain slashes.
func (s *Server) handleGapByID(w http.ResponseWriter, r *http.Request) {
	id, action := strings.TrimPrefix(r.URL.Path, "/gaps/"), ""
	for _, a := range []string{"complete", "release"} {
		if rest, ok := strings.CutSuffix(id, "/"+a); ok {
			id, action = rest, a
			break
		}
	}
	if id == "" {
		http.Error(w, "gap id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getGap(w, r, id)
	case action == "complete" && r.Method == http.MethodPost:
		s.settle(w, r, id, s.queue.Complete, "completed")
	case action == "release" && r.Method == http.MethodPost:
		s.settle(w, r, id, s.queue.Release, "released")
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) listGaps(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	status := models.ItemStatus(r.URL.Query().Get("status"))
	gapType := models.GapType(r.URL.Query().Get("gap_type"))
	out := make([]models.GapItem, 0, len(items))
	for _, it := range items {
		if status != "" && it.Status != status {
			continue
		}
		if gapType != "" && it.GapType != gapType {
			continue
		}
		out = append(out, it)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addGaps(w http.ResponseWriter, r *http.Request) {
	var items []models.GapItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.queue.Add(r.Context(), items)
	if err != nil {
		// Add validates before touching the queue, so anything left is the caller's.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getGap(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type leaseRequest struct {
	Worker   string   `json:"worker"`
	TTLSec   int      `json:"ttl_sec"`
	Priority []string `json:"priority"`
}

// handleLease handles POST /lease. The body is the leased gap, or null when
// nothing is pending.
func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ttl := s.defaultTTL
	if req.TTLSec != 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}
	priority := make([]models.GapType, 0, len(req.Priority))
	for _, p := range req.Priority {
		priority = append(priority, models.GapType(p))
	}

	item, err := s.queue.Lease(r.Context(), req.Worker, ttl, priority)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type settleRequest struct {
	Worker string `json:"worker"`
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, id string, op func(context.Context, string, string) error, outcome string) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Worker == "" {
		http.Error(w, queue.ErrWorkerRequired.Error(), http.StatusBadRequest)
		return
	}

	if err := op(r.Context(), id, req.Worker); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": outcome})
}

type gcRequest struct {
	PruneDoneOlderThanSec int `json:"prune_done_older_than_sec"`
}

func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req gcRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	n, err := s.queue.GC(r.Context(), time.Duration(req.PruneDoneOlderThanSec)*time.Second)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h, err := s.queue.Histogram(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed.", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
