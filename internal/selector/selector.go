package selector

import (
	"context"
	"errors"
	"strings"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/internal/registry"
	"XGov-Mesh/pkg/logger"
)

// Strategy 是一种挑选智能体的途径。
type Strategy interface {
	Name() string
	Pick(ctx context.Context, category registry.Category) (*registry.AgentRecord, error)
}

// Selector 按顺序尝试各个策略，全部落空时返回注册表的"无可用"错误。
type Selector struct {
	strategies []Strategy
}

// New 创建策略链。策略顺序即优先级。
func New(strategies ...Strategy) *Selector {
	return &Selector{strategies: strategies}
}

// Select 返回第一个策略给出的候选者。
// 单个策略的故障只降级、不中断：记录告警后继续尝试下一个策略。
func (s *Selector) Select(ctx context.Context, category registry.Category) (*registry.AgentRecord, error) {
	for _, strategy := range s.strategies {
		record, err := strategy.Pick(ctx, category)
		if err == nil && record != nil {
			logger.L().Debug("选中智能体",
				"strategy", strategy.Name(),
				"agent_id", record.ID,
				"category", string(category),
				"score", record.ReputationScore,
			)
			return record, nil
		}
		if err != nil && !errors.Is(err, registry.ErrNoneAvailable) {
			logger.L().Warn("选择策略失败，降级到下一策略",
				"strategy", strategy.Name(),
				"category", string(category),
				"error", err.Error(),
			)
		}
	}
	return nil, registry.ErrNoneAvailable
}

// StoreStrategy 从信誉注册表中取当前得分最高的活跃智能体。
type StoreStrategy struct {
	store registry.Store
}

// NewStoreStrategy 创建基于注册表的策略。
func NewStoreStrategy(store registry.Store) *StoreStrategy {
	return &StoreStrategy{store: store}
}

func (s *StoreStrategy) Name() string { return "reputation-store" }

func (s *StoreStrategy) Pick(ctx context.Context, category registry.Category) (*registry.AgentRecord, error) {
	return s.store.BestActive(ctx, category)
}

// DirectoryStrategy 用链上公告补救注册表没有活跃智能体的情况：
// 只要某个已注册智能体的钱包近期在链上公告过，就视为仍然可用。
type DirectoryStrategy struct {
	store     registry.Store
	directory ledger.Directory
	fromBlock uint64
}

// NewDirectoryStrategy 创建基于链上公告的策略。
func NewDirectoryStrategy(store registry.Store, directory ledger.Directory, fromBlock uint64) *DirectoryStrategy {
	return &DirectoryStrategy{store: store, directory: directory, fromBlock: fromBlock}
}

func (s *DirectoryStrategy) Name() string { return "ledger-directory" }

func (s *DirectoryStrategy) Pick(ctx context.Context, category registry.Category) (*registry.AgentRecord, error) {
	if s.directory == nil {
		return nil, registry.ErrNoneAvailable
	}

	accounts, err := s.directory.ScanProviders(ctx, s.fromBlock)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, registry.ErrNoneAvailable
	}
	announced := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		announced[strings.ToLower(account.Address)] = struct{}{}
	}

	records, err := s.store.ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}

	var best *registry.AgentRecord
	for _, record := range records {
		if record.Status == registry.StatusInactive {
			continue
		}
		if _, ok := announced[strings.ToLower(record.Address)]; !ok {
			continue
		}
		if best == nil || record.ReputationScore > best.ReputationScore {
			best = record
		}
	}
	if best == nil {
		return nil, registry.ErrNoneAvailable
	}
	return best, nil
}
