package planner

import (
	"context"
	"errors"
	"testing"

	"XGov-Mesh/internal/registry"
)

func TestStaticOracleKeywords(t *testing.T) {
	oracle := NewStaticOracle(2.5)

	tasks, err := oracle.Plan(context.Background(), "Scrape BTC price data and run sentiment analysis")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2: %+v", len(tasks), tasks)
	}
	if tasks[0].Category != registry.CategoryDataScraper {
		t.Fatalf("first category = %s, want data_scraper", tasks[0].Category)
	}
	if tasks[1].Category != registry.CategoryTextAnalyst {
		t.Fatalf("second category = %s, want text_analyst", tasks[1].Category)
	}
	for _, task := range tasks {
		if task.BudgetUSD != 2.5 {
			t.Fatalf("budget = %f, want 2.5", task.BudgetUSD)
		}
	}
}

func TestStaticOracleDefaultPlan(t *testing.T) {
	oracle := NewStaticOracle(0)

	tasks, err := oracle.Plan(context.Background(), "做点有意思的事情")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want default 2", len(tasks))
	}
	if tasks[0].Category != registry.CategoryDataScraper || tasks[1].Category != registry.CategoryTextAnalyst {
		t.Fatalf("unexpected default plan: %+v", tasks)
	}
}

func TestNormalizeDropsInvalid(t *testing.T) {
	tasks := Normalize([]SubTask{
		{Name: "ok", Category: registry.CategoryCodeExecutor},
		{Name: "", Category: registry.CategoryCodeExecutor},
		{Name: "bad category", Category: registry.Category("fortune_teller")},
	})
	if len(tasks) != 1 || tasks[0].Name != "ok" {
		t.Fatalf("unexpected normalized tasks: %+v", tasks)
	}
}

type stubOracle struct {
	tasks []SubTask
	err   error
	calls int
}

func (s *stubOracle) Plan(context.Context, string) ([]SubTask, error) {
	s.calls++
	return s.tasks, s.err
}

func TestWithFallback(t *testing.T) {
	want := []SubTask{{Name: "Data Collection", Category: registry.CategoryDataScraper}}

	primary := &stubOracle{err: errors.New("model unavailable")}
	fallback := &stubOracle{tasks: want}
	oracle := WithFallback(primary, fallback)

	tasks, err := oracle.Plan(context.Background(), "collect data")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != "Data Collection" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}

	// 主拆解器可为空。
	if WithFallback(nil, fallback) != Oracle(fallback) {
		t.Fatal("nil primary should return the fallback oracle directly")
	}
}

func TestWithFallbackPrimaryWins(t *testing.T) {
	want := []SubTask{{Name: "Code Execution", Category: registry.CategoryCodeExecutor}}
	primary := &stubOracle{tasks: want}
	fallback := &stubOracle{}

	tasks, err := WithFallback(primary, fallback).Plan(context.Background(), "run code")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Category != registry.CategoryCodeExecutor {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.calls)
	}
}
