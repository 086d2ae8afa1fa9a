package registry

import (
	"context"

	xerrors "XGov-Mesh/internal/errors"
)

// Category 表示智能体能够承接的服务类型。
type Category string

const (
	CategoryDataScraper    Category = "data_scraper"
	CategoryTextAnalyst    Category = "text_analyst"
	CategoryImageProcessor Category = "image_processor"
	CategoryCodeExecutor   Category = "code_executor"
)

// IsValidCategory 检查服务类型是否为支持的枚举值。
func IsValidCategory(category Category) bool {
	switch category {
	case CategoryDataScraper, CategoryTextAnalyst, CategoryImageProcessor, CategoryCodeExecutor:
		return true
	default:
		return false
	}
}

// Status 表示智能体在注册表中的可用状态。
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
)

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusInactive, StatusMaintenance:
		return true
	default:
		return false
	}
}

// 新注册的智能体统一从基准信誉分起步。
const BaselineScore int64 = 100

const (
	successReward  int64 = 1
	failurePenalty int64 = 5
)

// AgentRecord 描述一个已注册的服务智能体。
type AgentRecord struct {
	ID              string   `json:"agent_id"`
	Owner           string   `json:"owner,omitempty"`
	Address         string   `json:"wallet"`
	Category        Category `json:"service_type"`
	Endpoint        string   `json:"api_url"`
	ReputationScore int64    `json:"reputation_score"`
	SuccessfulCount int64    `json:"total_successful_txs"`
	FailedCount     int64    `json:"total_failed_txs"`
	Status          Status   `json:"status"`
	RegisteredAt    int64    `json:"registered_at"`
	UpdatedAt       int64    `json:"last_updated,omitempty"`
}

// Stats 汇总注册表的整体规模，供仪表盘展示。
type Stats struct {
	TotalAgents       int     `json:"total_agents"`
	ActiveAgents      int     `json:"active_agents"`
	TotalTransactions int64   `json:"total_transactions"`
	AverageReputation float64 `json:"average_reputation"`
}

// Store 抽象了智能体信誉数据的持久化接口。
type Store interface {
	Register(ctx context.Context, record *AgentRecord) error
	Get(ctx context.Context, id string) (*AgentRecord, error)
	List(ctx context.Context) ([]*AgentRecord, error)
	ListByCategory(ctx context.Context, category Category) ([]*AgentRecord, error)
	RecordOutcome(ctx context.Context, id string, success bool) (*AgentRecord, error)
	SetStatus(ctx context.Context, id string, status Status) error
	BestActive(ctx context.Context, category Category) (*AgentRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

var (
	// ErrAgentExists 表示相同 ID 的智能体已经注册过。
	ErrAgentExists = xerrors.New(CodeAgentExists, "agent already exists")
	// ErrAgentNotFound 表示指定的智能体不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrNoneAvailable 表示该服务类型下没有任何可用的智能体。
	ErrNoneAvailable = xerrors.New(CodeNoneAvailable, "no active agent for category")
)

const (
	CodeAgentExists   xerrors.Code = "AGENT_ALREADY_EXISTS"
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
	CodeNoneAvailable xerrors.Code = "NO_AGENT_AVAILABLE"
)

func init() {
	xerrors.Register(CodeAgentExists, xerrors.Attributes{
		Message:   "agent already exists",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNoneAvailable, xerrors.Attributes{
		Message:   "no active agent for category",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// applyOutcome 按统一的奖惩规则调整信誉分数与计数器。
// 成功 +1，失败 -5，分数永不低于 0。
func applyOutcome(record *AgentRecord, success bool) {
	if success {
		record.ReputationScore += successReward
		record.SuccessfulCount++
		return
	}
	record.ReputationScore -= failurePenalty
	if record.ReputationScore < 0 {
		record.ReputationScore = 0
	}
	record.FailedCount++
}

// betterCandidate 判断 candidate 是否优于 current。
// 分数更高者胜出；平分时按注册时间较早者胜出。
func betterCandidate(candidate, current *AgentRecord) bool {
	if current == nil {
		return true
	}
	if candidate.ReputationScore != current.ReputationScore {
		return candidate.ReputationScore > current.ReputationScore
	}
	return candidate.RegisteredAt < current.RegisteredAt
}

func cloneRecord(record *AgentRecord) *AgentRecord {
	if record == nil {
		return nil
	}
	clone := *record
	return &clone
}
