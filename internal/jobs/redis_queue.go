package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

const defaultRedisQueueKey = "xgov:jobs"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// PopTimeout 是 BRPOP 的阻塞时长，用于周期性检查 ctx。
	PopTimeout time.Duration
}

// RedisQueue 基于 Redis List 实现作业队列。
type RedisQueue struct {
	client     *redis.Client
	key        string
	popTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue 建立 Redis 连接并校验可达性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	key := cfg.Key
	if key == "" {
		key = defaultRedisQueueKey
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 2 * time.Second
	}
	return &RedisQueue{client: client, key: key, popTimeout: popTimeout}, nil
}

// Publish 将作业 ID 压入队列。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return xerrors.Wrap(CodeJobPublishFailed, err, "LPUSH 失败")
	}
	return nil
}

// Consume 持续 BRPOP 并处理作业 ID，直到 ctx 取消。
// 处理失败时将 ID 重新入队，等待后续重试。
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := q.client.BRPop(ctx, q.popTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.L().Error("BRPOP 失败", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}
		if len(values) != 2 {
			continue
		}
		jobID := values[1]
		if err := handler(ctx, jobID); err != nil {
			logger.L().Warn("作业处理失败，重新入队",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
			if pushErr := q.client.LPush(ctx, q.key, jobID).Err(); pushErr != nil {
				logger.L().Error("作业重新入队失败",
					slog.String("job_id", jobID),
					slog.String("error", pushErr.Error()))
			}
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
