package provider

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "XGov-Mesh/internal/errors"
)

const defaultProofTTL = 24 * time.Hour

// MemoryProofCache 在进程内记录已消费的支付凭证。
type MemoryProofCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

var _ ProofCache = (*MemoryProofCache)(nil)

// NewMemoryProofCache 创建带 TTL 的内存凭证缓存。
func NewMemoryProofCache(ttl time.Duration) *MemoryProofCache {
	if ttl <= 0 {
		ttl = defaultProofTTL
	}
	return &MemoryProofCache{entries: make(map[string]time.Time), ttl: ttl}
}

// Seen 返回凭证是否仍在缓存窗口内。
func (c *MemoryProofCache) Seen(_ context.Context, txHash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[txHash]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(c.entries, txHash)
		return false, nil
	}
	return true, nil
}

// Remember 标记凭证已消费。
func (c *MemoryProofCache) Remember(_ context.Context, txHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[txHash] = time.Now().Add(c.ttl)
	return nil
}

// RedisProofCache 将已消费凭证记录到 Redis，供多实例部署共享。
type RedisProofCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ ProofCache = (*RedisProofCache)(nil)

// RedisProofCacheConfig 描述 Redis 凭证缓存的连接参数。
type RedisProofCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisProofCache 建立连接并校验可达性。
func NewRedisProofCache(ctx context.Context, cfg RedisProofCacheConfig) (*RedisProofCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "xgov:proofs:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultProofTTL
	}
	return &RedisProofCache{client: client, keyPrefix: prefix, ttl: ttl}, nil
}

// Seen 返回凭证是否已被消费。
func (c *RedisProofCache) Seen(ctx context.Context, txHash string) (bool, error) {
	count, err := c.client.Exists(ctx, c.keyPrefix+txHash).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询凭证缓存失败")
	}
	return count > 0, nil
}

// Remember 标记凭证已消费，SetNX 保证并发下只有一次生效。
func (c *RedisProofCache) Remember(ctx context.Context, txHash string) error {
	ok, err := c.client.SetNX(ctx, c.keyPrefix+txHash, "1", c.ttl).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录凭证失败")
	}
	if !ok {
		return xerrors.New(CodeProofReplayed, "凭证已被并发消费")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *RedisProofCache) Close() error {
	return c.client.Close()
}
