package selector

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"XGov-Mesh/internal/registry"

	"gopkg.in/yaml.v3"
)

const defaultProbeTimeout = 3 * time.Second

// CatalogEntry 描述兜底目录中的一个保底智能体。
type CatalogEntry struct {
	AgentID  string `yaml:"agent_id"`
	Wallet   string `yaml:"wallet"`
	Category string `yaml:"service_type"`
	Endpoint string `yaml:"api_url"`
}

// Catalog 是运维手工维护的保底智能体清单，注册表和链上都找不到
// 候选者时才会用到。
type Catalog struct {
	Agents []CatalogEntry `yaml:"agents"`
}

// LoadCatalog 从 YAML 文件加载保底目录。
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return &Catalog{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取保底目录失败: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析保底目录失败: %w", err)
	}
	return &catalog, nil
}

// CatalogStrategy 在保底目录中挑选第一个通过健康检查的智能体。
type CatalogStrategy struct {
	catalog    *Catalog
	httpClient *http.Client
}

// NewCatalogStrategy 创建基于保底目录的策略。
func NewCatalogStrategy(catalog *Catalog) *CatalogStrategy {
	return &CatalogStrategy{
		catalog:    catalog,
		httpClient: &http.Client{Timeout: defaultProbeTimeout},
	}
}

func (s *CatalogStrategy) Name() string { return "static-catalog" }

func (s *CatalogStrategy) Pick(ctx context.Context, category registry.Category) (*registry.AgentRecord, error) {
	if s.catalog == nil {
		return nil, registry.ErrNoneAvailable
	}
	for _, entry := range s.catalog.Agents {
		if registry.Category(entry.Category) != category {
			continue
		}
		if !s.healthy(ctx, entry.Endpoint) {
			continue
		}
		return &registry.AgentRecord{
			ID:              entry.AgentID,
			Address:         entry.Wallet,
			Category:        category,
			Endpoint:        entry.Endpoint,
			ReputationScore: registry.BaselineScore,
			Status:          registry.StatusActive,
		}, nil
	}
	return nil, registry.ErrNoneAvailable
}

// healthy 以一次 GET /health 判断端点存活。
func (s *CatalogStrategy) healthy(ctx context.Context, endpoint string) bool {
	url := strings.TrimRight(endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
