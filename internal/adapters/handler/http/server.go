package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/ports"
	"edgefleet.c2/internal/core/services"
	"edgefleet.c2/internal/protocol"
)

const (
	maxPayloadSize = 1 << 20
	transportName  = "http"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

type ServerDeps struct {
	Endpoint      *services.C2Endpoint
	Fleet         *services.FleetService
	Health        *services.HealthService
	Hub           *Hub
	Rejected      ports.RejectedDatagramStore
	EnableMetrics bool
}

type Server struct {
	router *chi.Mux
	deps   ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestContext)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	if s.deps.EnableMetrics {
		s.router.Handle("/metrics", MetricsHandler())
	}

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/api/health", s.handleReadiness)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)

	// Agent-facing C2 endpoint
	s.router.Route("/c2", func(r chi.Router) {
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/acknowledge", s.handleAcknowledge)
	})

	s.router.Route("/api/agents", func(r chi.Router) {
		r.Get("/", s.handleListAgents)
		r.Get("/{id}", s.handleGetAgent)
		r.Get("/{id}/heartbeats", s.handleAgentHeartbeats)
		r.Get("/{id}/operations", s.handleListOperations)
		r.Post("/{id}/operations", s.handleQueueOperation)
	})

	s.router.Route("/api/flow-mappings", func(r chi.Router) {
		r.Get("/{class}", s.handleGetFlowMapping)
		r.Put("/{class}", s.handlePutFlowMapping)
	})

	s.router.Get("/api/rejected", s.handleListRejected)
	s.router.Get("/api/ws", s.handleWS)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestContext copies the request id into the logging context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps service errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case protocol.IsProtocolError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == contentTypeJSON
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.deps.Health.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.deps.Hub, w, r)
}

// handleHeartbeat accepts the binary datagram or, with a JSON content
// type, the full heartbeat document.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := services.WithTransport(r.Context(), transportName)
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	if isJSON(r) {
		resp, err := s.deps.Endpoint.HandleHeartbeatDocument(ctx, payload)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := s.deps.Endpoint.HandleHeartbeat(ctx, payload)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := services.WithTransport(r.Context(), transportName)
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)

	var (
		op  *domain.Operation
		err error
	)
	if isJSON(r) {
		var ack domain.Acknowledgement
		if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
			writeError(w, http.StatusBadRequest, "invalid acknowledgement: "+err.Error())
			return
		}
		op, err = s.deps.Endpoint.Acknowledge(ctx, &ack)
	} else {
		payload, rerr := io.ReadAll(r.Body)
		if rerr != nil {
			writeError(w, http.StatusRequestEntityTooLarge, rerr.Error())
			return
		}
		op, err = s.deps.Endpoint.HandleAcknowledge(ctx, payload)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Fleet.ListAgents(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Fleet.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentHeartbeats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	heartbeats, err := s.deps.Fleet.RecentHeartbeats(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeats)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	state := domain.OperationState(r.URL.Query().Get("state"))
	ops, err := s.deps.Fleet.ListOperations(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if ops == nil {
		ops = []*domain.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

type QueueOperationRequest struct {
	Operation domain.OperationType `json:"operation"`
	Operand   string               `json:"operand"`
	Args      map[string]string    `json:"args"`
}

func (s *Server) handleQueueOperation(w http.ResponseWriter, r *http.Request) {
	var req QueueOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !req.Operation.Valid() {
		writeError(w, http.StatusBadRequest, "unknown operation "+string(req.Operation))
		return
	}

	op, err := s.deps.Fleet.QueueOperation(r.Context(), chi.URLParam(r, "id"), req.Operation, req.Operand, req.Args)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func (s *Server) handleGetFlowMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.deps.Fleet.GetFlowMapping(r.Context(), chi.URLParam(r, "class"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

type FlowMappingRequest struct {
	FlowID string `json:"flowId"`
}

func (s *Server) handlePutFlowMapping(w http.ResponseWriter, r *http.Request) {
	var req FlowMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.FlowID == "" {
		writeError(w, http.StatusBadRequest, "flowId is required")
		return
	}

	mapping, err := s.deps.Fleet.SetFlowMapping(r.Context(), chi.URLParam(r, "class"), req.FlowID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleListRejected(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rejected == nil {
		writeJSON(w, http.StatusOK, []*domain.RejectedDatagram{})
		return
	}

	offset, limit := int64(0), int64(50)
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.ParseInt(o, 10, 64); err == nil && val >= 0 {
			offset = val
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.ParseInt(l, 10, 64); err == nil && val > 0 && val <= 500 {
			limit = val
		}
	}

	entries, err := s.deps.Rejected.ListRejected(r.Context(), offset, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
