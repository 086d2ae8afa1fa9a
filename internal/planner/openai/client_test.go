package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"XGov-Mesh/internal/registry"
)

func completionResponse(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return body
}

func TestPlanDecodesSubTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		content := `{"sub_tasks":[` +
			`{"name":"Data Collection","service_type":"data_scraper","budget_usd":5},` +
			`{"name":"Sentiment Analysis","service_type":"text_analyst","budget_usd":3},` +
			`{"name":"Nonsense","service_type":"fortune_teller"}]}`
		_, _ = w.Write(completionResponse(content))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tasks, err := client.Plan(context.Background(), "analyse BTC sentiment")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// 非法类别的子任务被过滤。
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2: %+v", len(tasks), tasks)
	}
	if tasks[0].Category != registry.CategoryDataScraper || tasks[0].BudgetUSD != 5 {
		t.Fatalf("unexpected first task: %+v", tasks[0])
	}
}

func TestPlanRejectsEmptyPlan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(completionResponse(`{"sub_tasks":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Plan(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for empty plan")
	}
}

func TestPlanSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Plan(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
