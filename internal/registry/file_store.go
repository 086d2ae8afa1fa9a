package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xerrors "XGov-Mesh/internal/errors"
)

// SchemaVersion 标记注册表文件的结构版本。
const SchemaVersion = "1.0.0"

// collectionMetadata 是集合级别的派生元数据，每次写盘时重新计算。
type collectionMetadata struct {
	Version     string `json:"version"`
	LastUpdated string `json:"last_updated"`
	TotalAgents int    `json:"total_agents"`
}

// collectionDocument 对应磁盘上的注册表文件结构。
type collectionDocument struct {
	Agents   []*AgentRecord     `json:"agents"`
	Metadata collectionMetadata `json:"metadata"`
}

// FileStore 以单个 JSON 文件保存智能体注册表，进程重启后数据仍然可用。
// 记录按注册顺序排列；所有写操作在互斥锁内完成并整体落盘。
type FileStore struct {
	mu      sync.RWMutex
	path    string
	records []*AgentRecord
	index   map[string]*AgentRecord
}

// NewFileStore 创建或加载指定目录下的注册表文件。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store := &FileStore{
		path:  filepath.Join(dataDir, "agent_registry.json"),
		index: make(map[string]*AgentRecord),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Register 实现 Store 接口。未填写的字段按默认值补齐。
func (s *FileStore) Register(_ context.Context, record *AgentRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体 ID 不能为空")
	}
	if !IsValidCategory(record.Category) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的服务类型: %s", record.Category))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[record.ID]; ok {
		return ErrAgentExists
	}

	clone := cloneRecord(record)
	applyRegistrationDefaults(clone)

	s.records = append(s.records, clone)
	s.index[clone.ID] = clone
	if err := s.persist(); err != nil {
		s.records = s.records[:len(s.records)-1]
		delete(s.index, clone.ID)
		return err
	}
	*record = *clone
	return nil
}

// Get 返回指定智能体的快照。
func (s *FileStore) Get(_ context.Context, id string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.index[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneRecord(record), nil
}

// List 按注册顺序返回全部智能体。
func (s *FileStore) List(_ context.Context) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]*AgentRecord, 0, len(s.records))
	for _, record := range s.records {
		results = append(results, cloneRecord(record))
	}
	return results, nil
}

// ListByCategory 按注册顺序返回指定服务类型的智能体。
func (s *FileStore) ListByCategory(_ context.Context, category Category) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*AgentRecord
	for _, record := range s.records {
		if record.Category == category {
			results = append(results, cloneRecord(record))
		}
	}
	return results, nil
}

// RecordOutcome 根据服务结果调整信誉分数并更新计数器。
func (s *FileStore) RecordOutcome(_ context.Context, id string, success bool) (*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.index[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	before := *record
	applyOutcome(record, success)
	record.UpdatedAt = time.Now().Unix()
	if err := s.persist(); err != nil {
		*record = before
		return nil, err
	}
	return cloneRecord(record), nil
}

// SetStatus 更新智能体状态。
func (s *FileStore) SetStatus(_ context.Context, id string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的状态: %s", status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.index[id]
	if !ok {
		return ErrAgentNotFound
	}
	before := *record
	record.Status = status
	record.UpdatedAt = time.Now().Unix()
	if err := s.persist(); err != nil {
		*record = before
		return err
	}
	return nil
}

// BestActive 返回指定服务类型下信誉最高的活跃智能体。
// 平分时按注册时间较早者胜出，与 MySQL 后端的排序保持一致。
func (s *FileStore) BestActive(_ context.Context, category Category) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *AgentRecord
	for _, record := range s.records {
		if record.Category != category || record.Status != StatusActive {
			continue
		}
		if betterCandidate(record, best) {
			best = record
		}
	}
	if best == nil {
		return nil, ErrNoneAvailable
	}
	return cloneRecord(best), nil
}

// Stats 汇总注册表统计信息。
func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TotalAgents: len(s.records)}
	if len(s.records) == 0 {
		return stats, nil
	}
	var scoreSum int64
	for _, record := range s.records {
		if record.Status == StatusActive {
			stats.ActiveAgents++
		}
		stats.TotalTransactions += record.SuccessfulCount + record.FailedCount
		scoreSum += record.ReputationScore
	}
	stats.AverageReputation = float64(scoreSum) / float64(len(s.records))
	return stats, nil
}

// Close 对文件存储无需操作。
func (s *FileStore) Close() error {
	return nil
}

func applyRegistrationDefaults(record *AgentRecord) {
	if record.ReputationScore <= 0 {
		record.ReputationScore = BaselineScore
	}
	if record.Status == "" {
		record.Status = StatusActive
	}
	if record.RegisteredAt == 0 {
		record.RegisteredAt = time.Now().Unix()
	}
	record.UpdatedAt = record.RegisteredAt
}

// persist 将整个集合写入磁盘，并重新计算集合元数据。
// 先写临时文件再重命名，避免进程中断导致文件损坏。
func (s *FileStore) persist() error {
	doc := collectionDocument{
		Agents: s.records,
		Metadata: collectionMetadata{
			Version:     SchemaVersion,
			LastUpdated: time.Now().UTC().Format(time.RFC3339),
			TotalAgents: len(s.records),
		},
	}
	if doc.Agents == nil {
		doc.Agents = []*AgentRecord{}
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化注册表失败: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("写入注册表失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换注册表文件失败: %w", err)
	}
	return nil
}

func (s *FileStore) loadFromDisk() error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.persist()
		}
		return fmt.Errorf("读取注册表文件失败: %w", err)
	}

	var doc collectionDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("解析注册表文件失败: %w", err)
	}
	for _, record := range doc.Agents {
		if record == nil || record.ID == "" {
			continue
		}
		if _, ok := s.index[record.ID]; ok {
			continue
		}
		s.records = append(s.records, record)
		s.index[record.ID] = record
	}
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*FileStore)(nil)
