package jobs

import (
	"context"
	"log/slog"
	"sync"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

// MemoryQueue 是进程内队列实现，适用于单机部署和测试。
type MemoryQueue struct {
	ch        chan string
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建指定容量的内存队列。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryQueue{
		ch:     make(chan string, capacity),
		closed: make(chan struct{}),
	}
}

// Publish 投递作业 ID，队列已满时阻塞直到 ctx 取消。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.closed:
		return xerrors.New(CodeJobPublishFailed, "内存队列已关闭")
	default:
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-q.closed:
		return xerrors.New(CodeJobPublishFailed, "内存队列已关闭")
	case <-ctx.Done():
		return xerrors.Wrap(CodeJobPublishFailed, ctx.Err(), "入队等待被取消")
	}
}

// Consume 持续消费作业 ID，直到 ctx 取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return nil
		case jobID := <-q.ch:
			if err := handler(ctx, jobID); err != nil {
				logger.L().Warn("作业处理失败",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Close 关闭队列，已入队的消息会被丢弃。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
