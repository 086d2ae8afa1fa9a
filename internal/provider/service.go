package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"XGov-Mesh/pkg/logger"

	"XGov-Mesh/internal/registry"
)

// invocationRequest 是编排方调用服务时的请求体。
type invocationRequest struct {
	TaskID      string `json:"task_id"`
	Task        string `json:"task"`
	Goal        string `json:"goal"`
	ServiceType string `json:"service_type"`
}

// Server 将单个智能体的服务暴露为 HTTP 接口。
// /health 和 /info 免费开放，/invoke 经过支付中间件。
type Server struct {
	agentID    string
	category   registry.Category
	middleware *Middleware
}

// NewServer 创建智能体服务端。
func NewServer(agentID string, category registry.Category, middleware *Middleware) *Server {
	return &Server{agentID: agentID, category: category, middleware: middleware}
}

// Routes 构建服务端路由。
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/invoke", s.middleware.Wrap(http.HandlerFunc(s.handleInvoke)))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"agent_id": s.agentID,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":     s.agentID,
		"service_type": s.category,
		"recipient":    s.middleware.requirement.Recipient,
		"amount_wei":   s.middleware.requirement.AmountWei.String(),
		"network":      s.middleware.requirement.Network,
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	logger.L().Info("服务调用",
		slog.String("agent_id", s.agentID),
		slog.String("task_id", req.TaskID),
		slog.String("task", req.Task))
	writeJSON(w, http.StatusOK, s.executeTask(req))
}

// executeTask 按类别返回模拟的服务结果。
func (s *Server) executeTask(req invocationRequest) map[string]any {
	result := map[string]any{
		"task_id":      req.TaskID,
		"agent_id":     s.agentID,
		"service_type": s.category,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	switch s.category {
	case registry.CategoryDataScraper:
		result["records"] = []map[string]any{
			{"source": "market-feed", "field": "price_usd", "value": 3021.55},
			{"source": "market-feed", "field": "volume_24h", "value": 18234000},
		}
		result["record_count"] = 2
	case registry.CategoryTextAnalyst:
		result["sentiment"] = "positive"
		result["confidence"] = 0.92
		result["summary"] = fmt.Sprintf("Analyzed input for task %q; overall tone is optimistic.", req.Task)
	case registry.CategoryImageProcessor:
		result["objects"] = []string{"chart", "logo"}
		result["caption"] = "A line chart trending upward next to a product logo."
	case registry.CategoryCodeExecutor:
		result["exit_code"] = 0
		result["stdout"] = "42\n"
	default:
		result["output"] = fmt.Sprintf("completed task %q", req.Task)
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Error("写入响应失败", slog.String("error", err.Error()))
	}
}
