package planner

import (
	"context"
	"strings"

	"XGov-Mesh/internal/registry"
)

// categoryKeywords 把目标文本中的线索映射到服务类型。
var categoryKeywords = map[registry.Category][]string{
	registry.CategoryDataScraper:    {"scrape", "collect", "crawl", "fetch", "data", "price"},
	registry.CategoryTextAnalyst:    {"sentiment", "analyse", "analyze", "summar", "text", "report"},
	registry.CategoryImageProcessor: {"image", "photo", "picture", "chart"},
	registry.CategoryCodeExecutor:   {"code", "script", "execute", "run", "compute"},
}

// categoryTaskNames 给静态拆解出的子任务一个可读名称。
var categoryTaskNames = map[registry.Category]string{
	registry.CategoryDataScraper:    "Data Collection",
	registry.CategoryTextAnalyst:    "Sentiment Analysis",
	registry.CategoryImageProcessor: "Image Processing",
	registry.CategoryCodeExecutor:   "Code Execution",
}

// 关键词顺序固定，保证同一目标拆出的计划可复现。
var categoryOrder = []registry.Category{
	registry.CategoryDataScraper,
	registry.CategoryTextAnalyst,
	registry.CategoryImageProcessor,
	registry.CategoryCodeExecutor,
}

// StaticOracle 用关键词匹配做保底拆解，不依赖任何外部服务。
type StaticOracle struct {
	defaultBudget float64
}

// NewStaticOracle 创建静态拆解器。
func NewStaticOracle(defaultBudget float64) *StaticOracle {
	if defaultBudget <= 0 {
		defaultBudget = 3.0
	}
	return &StaticOracle{defaultBudget: defaultBudget}
}

// Plan 按关键词命中情况给出子任务；没有任何命中时退回
// 数据采集加情感分析的默认计划。
func (o *StaticOracle) Plan(_ context.Context, goal string) ([]SubTask, error) {
	normalized := strings.ToLower(goal)

	var tasks []SubTask
	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(normalized, keyword) {
				tasks = append(tasks, SubTask{
					Name:      categoryTaskNames[category],
					Category:  category,
					BudgetUSD: o.defaultBudget,
				})
				break
			}
		}
	}

	if len(tasks) == 0 {
		tasks = []SubTask{
			{Name: "Data Collection", Category: registry.CategoryDataScraper, BudgetUSD: o.defaultBudget},
			{Name: "Sentiment Analysis", Category: registry.CategoryTextAnalyst, BudgetUSD: o.defaultBudget},
		}
	}
	return tasks, nil
}

var _ Oracle = (*StaticOracle)(nil)
