// Package api exposes the operator-facing HTTP surface: job intake and
// review endpoints, a metrics snapshot, and a websocket stream of job
// lifecycle events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/logging"
	"cardmint/internal/metrics"
	"cardmint/internal/queue"
)

// Server hosts the HTTP API over a running queue.
type Server struct {
	cfg     *config.Config
	queue   *queue.Queue
	minter  queue.Minter
	metrics *metrics.Registry
	bus     *events.Bus
	logger  *slog.Logger

	hub        *hub
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the API over its collaborators. The minter may be nil,
// in which case Accept falls back to baseline persistence.
func NewServer(cfg *config.Config, q *queue.Queue, minter queue.Minter, registry *metrics.Registry, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	s := &Server{
		cfg:     cfg,
		queue:   q,
		minter:  minter,
		metrics: registry,
		bus:     bus,
		logger:  logger.With(logging.String(logging.FieldComponent, "api")),
		hub:     newHub(logger),
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the configured address and serves until Shutdown. The actual
// bound address is available from Addr once Start returns.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("bind api listener: %w", err)
	}
	s.listener = listener
	s.hub.run(ctx, s.bus)

	go func() {
		s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server stopped", logging.Error(serveErr))
		}
	}()
	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and closes the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleEnqueue)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /api/jobs/{id}/accept-baseline", s.handleAcceptBaseline)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /events", s.hub.handleWebSocket)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("queue unavailable: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": depth,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts := make(map[string]int, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(part)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	jobs, err := s.queue.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		writeError(w, http.StatusBadRequest, errors.New("image_path is required"))
		return
	}

	// A back capture whose front scan is still waiting attaches to that job
	// rather than entering the queue as a new scan.
	if queue.Orientation(req.Orientation) == queue.OrientationBack {
		for _, key := range []string{req.CaptureUID, req.SessionID} {
			frontJobID, ok := s.queue.ResolveBackCapture(key)
			if !ok {
				continue
			}
			job, err := s.queue.AttachBackCapture(r.Context(), frontJobID, req.ImagePath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, newJobView(job))
			return
		}
	}

	job, err := s.queue.Enqueue(r.Context(), queue.EnqueueOptions{
		ImagePath:       req.ImagePath,
		RawImagePath:    req.RawImagePath,
		CaptureUID:      req.CaptureUID,
		SessionID:       req.SessionID,
		ScanOrientation: queue.Orientation(req.Orientation),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job.ScanOrientation == queue.OrientationFront {
		for _, key := range []string{job.CaptureUID, job.SessionID} {
			if strings.TrimSpace(key) != "" {
				s.queue.ExpectBackCapture(key, job.ID)
			}
		}
	}
	writeJSON(w, http.StatusCreated, newJobView(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// handleAccept runs the operator confirmation. Inventory is minted before
// job truth is persisted; a mint failure leaves the job reviewable.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req acceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.TruthCore.CardName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("truth_core.card_name is required"))
		return
	}

	if s.minter == nil || req.Baseline {
		s.acceptBaseline(w, r, id, req)
		return
	}

	job, mint, err := s.queue.AcceptWithTruthCore(r.Context(), id, s.minter, req.TruthCore, req.Condition, req.Timings)
	if err != nil {
		s.logger.Error("accept failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err))
		writeError(w, http.StatusConflict, err)
		return
	}
	s.metrics.Counter(metrics.JobsAccepted).Add(1)
	writeJSON(w, http.StatusOK, acceptResponse{
		Job:                  newJobView(job),
		Action:               mint.Action,
		ItemUID:              mint.ItemUID,
		ProductSKU:           mint.ProductSKU,
		ListingSKU:           mint.ListingSKU,
		CMCardID:             mint.CMCardID,
		CanonicalConfidence:  mint.CanonicalConfidence,
		FingerprintCollision: mint.FingerprintCollision,
	})
}

// handleAcceptBaseline records operator truth without touching inventory.
// Used for calibration passes where no item should be minted.
func (s *Server) handleAcceptBaseline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req acceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.TruthCore.CardName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("truth_core.card_name is required"))
		return
	}
	s.acceptBaseline(w, r, id, req)
}

func (s *Server) acceptBaseline(w http.ResponseWriter, r *http.Request, id string, req acceptRequest) {
	job, err := s.queue.AcceptBaseline(r.Context(), id, req.TruthCore, req.Timings)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Job: newJobView(job)})
}

// handleRetry requeues a terminal job for another pipeline pass.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.queue.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	switch job.Status {
	case queue.StatusFailed, queue.StatusUnmatched:
	default:
		writeError(w, http.StatusConflict, fmt.Errorf("job in status %s cannot be retried", job.Status))
		return
	}
	updated, err := s.queue.Requeue(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.Counter(metrics.JobsRequeued).Add(1)
	writeJSON(w, http.StatusOK, newJobView(updated))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
