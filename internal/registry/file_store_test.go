package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	xerrors "XGov-Mesh/internal/errors"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func mustRegister(t *testing.T, store Store, id string, category Category) *AgentRecord {
	t.Helper()
	record := &AgentRecord{
		ID:       id,
		Address:  "0x" + id,
		Category: category,
		Endpoint: "http://agents.local/" + id,
	}
	if err := store.Register(context.Background(), record); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	return record
}

func TestFileStoreRegisterDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	record := mustRegister(t, store, "scraper-001", CategoryDataScraper)
	if record.ReputationScore != BaselineScore {
		t.Fatalf("reputation = %d, want %d", record.ReputationScore, BaselineScore)
	}
	if record.Status != StatusActive {
		t.Fatalf("status = %s, want %s", record.Status, StatusActive)
	}
	if record.RegisteredAt == 0 {
		t.Fatal("expected RegisteredAt to be stamped")
	}

	got, err := store.Get(context.Background(), "scraper-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != record.ID || got.Category != record.Category || got.Endpoint != record.Endpoint {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFileStoreRegisterDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	mustRegister(t, store, "scraper-001", CategoryDataScraper)

	dup := &AgentRecord{ID: "scraper-001", Address: "0xother", Category: CategoryDataScraper, Endpoint: "http://other"}
	err := store.Register(context.Background(), dup)
	if !errors.Is(err, ErrAgentExists) {
		t.Fatalf("expected ErrAgentExists, got %v", err)
	}
	if xerrors.CodeOf(err) != CodeAgentExists {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), CodeAgentExists)
	}
}

func TestFileStoreRegisterRejectsInvalidCategory(t *testing.T) {
	store, _ := newTestStore(t)
	record := &AgentRecord{ID: "odd", Address: "0xodd", Category: Category("time_traveler"), Endpoint: "http://odd"}
	if err := store.Register(context.Background(), record); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestFileStoreRecordOutcome(t *testing.T) {
	store, _ := newTestStore(t)
	mustRegister(t, store, "analyst-001", CategoryTextAnalyst)
	ctx := context.Background()

	updated, err := store.RecordOutcome(ctx, "analyst-001", true)
	if err != nil {
		t.Fatalf("RecordOutcome(success): %v", err)
	}
	if updated.ReputationScore != BaselineScore+1 {
		t.Fatalf("score = %d, want %d", updated.ReputationScore, BaselineScore+1)
	}
	if updated.SuccessfulCount != 1 || updated.FailedCount != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", updated.SuccessfulCount, updated.FailedCount)
	}

	updated, err = store.RecordOutcome(ctx, "analyst-001", false)
	if err != nil {
		t.Fatalf("RecordOutcome(failure): %v", err)
	}
	if updated.ReputationScore != BaselineScore+1-5 {
		t.Fatalf("score = %d, want %d", updated.ReputationScore, BaselineScore-4)
	}
	if updated.SuccessfulCount != 1 || updated.FailedCount != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", updated.SuccessfulCount, updated.FailedCount)
	}
}

func TestFileStoreScoreNeverNegative(t *testing.T) {
	store, _ := newTestStore(t)
	mustRegister(t, store, "executor-001", CategoryCodeExecutor)
	ctx := context.Background()

	// 连续失败足以把分数压到下限以下。
	var last *AgentRecord
	for i := 0; i < 25; i++ {
		record, err := store.RecordOutcome(ctx, "executor-001", false)
		if err != nil {
			t.Fatalf("RecordOutcome #%d: %v", i, err)
		}
		if record.ReputationScore < 0 {
			t.Fatalf("score went negative: %d", record.ReputationScore)
		}
		last = record
	}
	if last.ReputationScore != 0 {
		t.Fatalf("score = %d, want 0 after sustained failures", last.ReputationScore)
	}
	if last.FailedCount != 25 {
		t.Fatalf("failed count = %d, want 25", last.FailedCount)
	}
}

func TestFileStoreRecordOutcomeUnknownAgent(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.RecordOutcome(context.Background(), "ghost", true); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestFileStoreBestActive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustRegister(t, store, "scraper-a", CategoryDataScraper)
	mustRegister(t, store, "scraper-b", CategoryDataScraper)
	mustRegister(t, store, "analyst-a", CategoryTextAnalyst)

	for i := 0; i < 3; i++ {
		if _, err := store.RecordOutcome(ctx, "scraper-b", true); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	best, err := store.BestActive(ctx, CategoryDataScraper)
	if err != nil {
		t.Fatalf("BestActive: %v", err)
	}
	if best.ID != "scraper-b" {
		t.Fatalf("best = %s, want scraper-b", best.ID)
	}
}

func TestFileStoreBestActiveTieBreak(t *testing.T) {
	store, _ := newTestStore(t)

	// 分数持平时先注册者胜出。
	mustRegister(t, store, "scraper-first", CategoryDataScraper)
	mustRegister(t, store, "scraper-second", CategoryDataScraper)

	best, err := store.BestActive(context.Background(), CategoryDataScraper)
	if err != nil {
		t.Fatalf("BestActive: %v", err)
	}
	if best.ID != "scraper-first" {
		t.Fatalf("best = %s, want scraper-first", best.ID)
	}
}

func TestFileStoreBestActiveTieBreakHonoursRegisteredAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// 后插入但注册时间戳更早的记录应当在平分时胜出。
	err := store.Register(ctx, &AgentRecord{
		ID:           "scraper-late",
		Address:      "0xscraper-late",
		Category:     CategoryDataScraper,
		Endpoint:     "http://agents.local/scraper-late",
		RegisteredAt: 2_000,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = store.Register(ctx, &AgentRecord{
		ID:           "scraper-early",
		Address:      "0xscraper-early",
		Category:     CategoryDataScraper,
		Endpoint:     "http://agents.local/scraper-early",
		RegisteredAt: 1_000,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	best, err := store.BestActive(ctx, CategoryDataScraper)
	if err != nil {
		t.Fatalf("BestActive: %v", err)
	}
	if best.ID != "scraper-early" {
		t.Fatalf("best = %s, want scraper-early", best.ID)
	}
}

func TestFileStoreBestActiveSkipsUnavailable(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustRegister(t, store, "scraper-a", CategoryDataScraper)
	mustRegister(t, store, "scraper-b", CategoryDataScraper)

	for i := 0; i < 5; i++ {
		if _, err := store.RecordOutcome(ctx, "scraper-a", true); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if err := store.SetStatus(ctx, "scraper-a", StatusMaintenance); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	best, err := store.BestActive(ctx, CategoryDataScraper)
	if err != nil {
		t.Fatalf("BestActive: %v", err)
	}
	if best.ID != "scraper-b" {
		t.Fatalf("best = %s, want scraper-b while scraper-a is in maintenance", best.ID)
	}

	if err := store.SetStatus(ctx, "scraper-b", StatusInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := store.BestActive(ctx, CategoryDataScraper); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestFileStoreBestActiveEmptyCategory(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.BestActive(context.Background(), CategoryImageProcessor); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestFileStoreStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustRegister(t, store, "scraper-a", CategoryDataScraper)
	mustRegister(t, store, "analyst-a", CategoryTextAnalyst)
	if _, err := store.RecordOutcome(ctx, "scraper-a", true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if _, err := store.RecordOutcome(ctx, "analyst-a", false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.SetStatus(ctx, "analyst-a", StatusInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalAgents != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalAgents)
	}
	if stats.ActiveAgents != 1 {
		t.Fatalf("active = %d, want 1", stats.ActiveAgents)
	}
	if stats.TotalTransactions != 2 {
		t.Fatalf("transactions = %d, want 2", stats.TotalTransactions)
	}
	wantAvg := float64(BaselineScore+1+BaselineScore-5) / 2
	if stats.AverageReputation != wantAvg {
		t.Fatalf("avg = %f, want %f", stats.AverageReputation, wantAvg)
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	mustRegister(t, store, "scraper-a", CategoryDataScraper)
	if _, err := store.RecordOutcome(ctx, "scraper-a", true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "scraper-a")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.ReputationScore != BaselineScore+1 {
		t.Fatalf("score after reload = %d, want %d", got.ReputationScore, BaselineScore+1)
	}
}

func TestFileStoreWritesCollectionMetadata(t *testing.T) {
	store, dir := newTestStore(t)
	mustRegister(t, store, "scraper-a", CategoryDataScraper)
	mustRegister(t, store, "analyst-a", CategoryTextAnalyst)

	raw, err := os.ReadFile(filepath.Join(dir, "agent_registry.json"))
	if err != nil {
		t.Fatalf("read registry file: %v", err)
	}
	var doc struct {
		Agents   []json.RawMessage `json:"agents"`
		Metadata struct {
			Version     string `json:"version"`
			LastUpdated string `json:"last_updated"`
			TotalAgents int    `json:"total_agents"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode registry file: %v", err)
	}
	if doc.Metadata.Version != SchemaVersion {
		t.Fatalf("version = %s, want %s", doc.Metadata.Version, SchemaVersion)
	}
	if doc.Metadata.TotalAgents != 2 || len(doc.Agents) != 2 {
		t.Fatalf("metadata count = %d (agents %d), want 2", doc.Metadata.TotalAgents, len(doc.Agents))
	}
	if doc.Metadata.LastUpdated == "" {
		t.Fatal("expected last_updated to be stamped")
	}
}
