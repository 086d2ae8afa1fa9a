package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/jobs"
	"XGov-Mesh/internal/observability/metrics"
	"XGov-Mesh/internal/orchestrator"
	"XGov-Mesh/internal/registry"
)

// Orchestrator 是同步编排入口的最小接口。
type Orchestrator interface {
	Orchestrate(ctx context.Context, goal string) (*orchestrator.Result, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr      string
	store     registry.Store
	orch      Orchestrator
	jobs      *jobs.Service
	collector *metrics.Collector
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, store registry.Store, orch Orchestrator, jobService *jobs.Service, collector *metrics.Collector) *Server {
	return &Server{addr: addr, store: store, orch: orch, jobs: jobService, collector: collector}
}

// Routes 构建全部路由。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/orchestrate", s.instrument("/api/v1/orchestrate", s.handleOrchestrate))
	mux.HandleFunc("/api/v1/agents", s.instrument("/api/v1/agents", s.handleAgents))
	mux.HandleFunc("/api/v1/agents/stats", s.instrument("/api/v1/agents/stats", s.handleAgentStats))
	mux.HandleFunc("/api/v1/agents/", s.instrument("/api/v1/agents/{id}", s.handleAgentSubRoutes))
	mux.HandleFunc("/api/v1/jobs", s.instrument("/api/v1/jobs", s.handleJobs))
	mux.HandleFunc("/api/v1/jobs/", s.instrument("/api/v1/jobs/{id}", s.handleJobByID))
	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.L().Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type orchestrateRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	result, err := s.orch.Orchestrate(r.Context(), req.Goal)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.ObserveOrchestration(result.Success)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterAgent(w, r)
	case http.MethodGet:
		s.handleListAgents(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var record registry.AgentRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if err := s.store.Register(r.Context(), &record); err != nil {
		writeError(w, err)
		return
	}
	logger.Audit().Info("agent registered",
		slog.String("agent_id", record.ID),
		slog.String("service_type", string(record.Category)))
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	category := registry.Category(r.URL.Query().Get("service_type"))
	var (
		records []*registry.AgentRecord
		err     error
	)
	if category != "" {
		records, err = s.store.ListByCategory(r.Context(), category)
	} else {
		records, err = s.store.List(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type statusUpdateRequest struct {
	Status registry.Status `json:"status"`
}

// handleAgentSubRoutes 处理 /api/v1/agents/{id} 与 /api/v1/agents/{id}/status。
func (s *Server) handleAgentSubRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		record, err := s.store.Get(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPut {
			http.Error(w, "仅支持 PUT", http.StatusMethodNotAllowed)
			return
		}
		var req statusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
			return
		}
		if err := s.store.SetStatus(r.Context(), parts[0], req.Status); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"agent_id": parts[0], "status": string(req.Status)})
	default:
		http.NotFound(w, r)
	}
}

type submitJobRequest struct {
	Goal     string            `json:"goal"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "作业服务未启用", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
			return
		}
		job, err := s.jobs.Submit(r.Context(), req.Goal, req.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	case http.MethodGet:
		if r.URL.Query().Get("stats") == "true" {
			stats, err := s.jobs.Stats(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		items, err := s.jobs.List(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "作业服务未启用", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// instrument 为处理器记录请求量、错误率与耗时。
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.collector == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.collector.ObserveHTTPRequest(route, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError 将内部错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, jobs.CodeJobValidationFailed:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, registry.CodeAgentNotFound, jobs.CodeJobNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, registry.CodeAgentExists, jobs.CodeJobConflict:
		status = http.StatusConflict
	case registry.CodeNoneAvailable:
		status = http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Error("写入响应失败", slog.String("error", err.Error()))
	}
}
