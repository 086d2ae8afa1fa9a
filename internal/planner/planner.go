// Package planner 负责把用户的复合目标拆解成可派发的子任务。
// 首选大模型拆解，模型不可用时退回基于关键词的静态拆解。
package planner

import (
	"context"
	"strings"

	"XGov-Mesh/internal/registry"
	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

// SubTask 是计划中的一个子任务。
type SubTask struct {
	Name      string            `json:"name"`
	Category  registry.Category `json:"service_type"`
	BudgetUSD float64           `json:"budget_usd,omitempty"`
}

// Oracle 定义任务拆解的统一接口。
type Oracle interface {
	Plan(ctx context.Context, goal string) ([]SubTask, error)
}

// Normalize 过滤掉类别非法或名称为空的子任务。
func Normalize(tasks []SubTask) []SubTask {
	results := make([]SubTask, 0, len(tasks))
	for _, task := range tasks {
		task.Name = strings.TrimSpace(task.Name)
		if task.Name == "" {
			continue
		}
		if !registry.IsValidCategory(task.Category) {
			continue
		}
		results = append(results, task)
	}
	return results
}

// fallbackOracle 先问主拆解器，失败时转用备用拆解器。
type fallbackOracle struct {
	primary  Oracle
	fallback Oracle
}

// WithFallback 组合两个拆解器。primary 可以为 nil。
func WithFallback(primary, fallback Oracle) Oracle {
	if primary == nil {
		return fallback
	}
	return &fallbackOracle{primary: primary, fallback: fallback}
}

func (o *fallbackOracle) Plan(ctx context.Context, goal string) ([]SubTask, error) {
	tasks, err := o.primary.Plan(ctx, goal)
	if err == nil && len(tasks) > 0 {
		return tasks, nil
	}
	if err != nil {
		logger.L().Warn("主拆解器失败，改用静态拆解", "error", err.Error())
	}
	if o.fallback == nil {
		if err != nil {
			return nil, err
		}
		return nil, xerrors.New(xerrors.CodeUnknown, "拆解结果为空且没有备用拆解器")
	}
	return o.fallback.Plan(ctx, goal)
}
