// Package xgov provides a small client for the XGov Mesh REST API.
package xgov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the XGov Mesh REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient builds a client for the given base URL. When httpClient is nil a
// default client with DefaultHTTPTimeout is used.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Agent mirrors a registry entry as returned by the API.
type Agent struct {
	ID              string `json:"agent_id"`
	Owner           string `json:"owner,omitempty"`
	Address         string `json:"wallet"`
	Category        string `json:"service_type"`
	Endpoint        string `json:"api_url"`
	ReputationScore int64  `json:"reputation_score"`
	SuccessfulCount int64  `json:"total_successful_txs"`
	FailedCount     int64  `json:"total_failed_txs"`
	Status          string `json:"status"`
	RegisteredAt    int64  `json:"registered_at"`
}

// AgentStats summarises the registry.
type AgentStats struct {
	TotalAgents       int     `json:"total_agents"`
	ActiveAgents      int     `json:"active_agents"`
	TotalTransactions int64   `json:"total_transactions"`
	AverageReputation float64 `json:"average_reputation"`
}

// TransferRef identifies an on-chain payment made during orchestration.
type TransferRef struct {
	TxHash      string `json:"tx_hash"`
	Recipient   string `json:"recipient"`
	AmountWei   string `json:"amount_wei"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// SubTaskResult describes the outcome of a single sub-task.
type SubTaskResult struct {
	Name            string          `json:"name"`
	Category        string          `json:"service_type"`
	AgentID         string          `json:"agent_id,omitempty"`
	Reputation      int64           `json:"reputation"`
	Delivered       bool            `json:"delivered"`
	State           string          `json:"state,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Response        json.RawMessage `json:"response,omitempty"`
	Transfer        *TransferRef    `json:"transfer,omitempty"`
	ValidationTx    string          `json:"validation_tx,omitempty"`
	ValidationError string          `json:"validation_error,omitempty"`
}

// OrchestrationResult is the synchronous orchestration response.
// Timestamps are unix seconds, matching the server's wire format.
type OrchestrationResult struct {
	TaskID     string          `json:"task_id"`
	Goal       string          `json:"goal"`
	Success    bool            `json:"success"`
	SubResults []SubTaskResult `json:"sub_results"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at"`
}

// Job describes an asynchronous orchestration request.
type Job struct {
	ID         string               `json:"id"`
	Goal       string               `json:"goal"`
	Status     string               `json:"status"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	Metadata   map[string]string    `json:"metadata,omitempty"`
	Result     *OrchestrationResult `json:"result,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// JobStats summarises jobs by state.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("xgov: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("xgov: http %d: %s", e.StatusCode, e.Message)
}

// Orchestrate runs a goal synchronously and returns the full result.
func (c *Client) Orchestrate(ctx context.Context, goal string) (*OrchestrationResult, error) {
	var result OrchestrationResult
	payload := map[string]string{"goal": goal}
	if err := c.post(ctx, "/api/v1/orchestrate", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterAgent adds a new agent to the registry.
func (c *Client) RegisterAgent(ctx context.Context, agent Agent) (*Agent, error) {
	var created Agent
	if err := c.post(ctx, "/api/v1/agents", agent, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetAgent fetches a single agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.get(ctx, "/api/v1/agents/"+id, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns registered agents, optionally filtered by category.
func (c *Client) ListAgents(ctx context.Context, category string) ([]Agent, error) {
	query := url.Values{}
	if category != "" {
		query.Set("service_type", category)
	}
	var agents []Agent
	if err := c.get(ctx, "/api/v1/agents", query, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// UpdateAgentStatus transitions an agent between active, inactive and
// maintenance.
func (c *Client) UpdateAgentStatus(ctx context.Context, id, status string) error {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/api/v1/agents/"+id+"/status", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// GetAgentStats returns registry wide statistics.
func (c *Client) GetAgentStats(ctx context.Context) (*AgentStats, error) {
	var stats AgentStats
	if err := c.get(ctx, "/api/v1/agents/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SubmitJob enqueues a goal for asynchronous orchestration.
func (c *Client) SubmitJob(ctx context.Context, goal string, metadata map[string]string) (*Job, error) {
	var job Job
	payload := map[string]any{"goal": goal}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	if err := c.post(ctx, "/api/v1/jobs", payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the most recently created jobs.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var items []Job
	if err := c.get(ctx, "/api/v1/jobs", query, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetJobStats returns job counts by state.
func (c *Client) GetJobStats(ctx context.Context) (*JobStats, error) {
	query := url.Values{}
	query.Set("stats", "true")
	var stats JobStats
	if err := c.get(ctx, "/api/v1/jobs", query, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WaitForJob polls a job until it reaches a terminal state or ctx is done.
func (c *Client) WaitForJob(ctx context.Context, id string, pollInterval time.Duration) (*Job, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
