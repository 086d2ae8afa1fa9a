package jobs

import (
	"context"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/orchestrator"
)

// Store 定义作业存储层的契约。
type Store interface {
	// Create 持久化一个新作业，ID 冲突时返回 ErrJobConflict。
	Create(ctx context.Context, job *Job) error
	// Get 返回指定作业的快照，不存在时返回 ErrJobNotFound。
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将 pending 状态的作业置为 running 并累加尝试次数。
	// 终态作业返回 ErrJobCompleted，running 作业返回 ErrJobConflict。
	Claim(ctx context.Context, id string) (*Job, error)
	// MarkSucceeded 记录作业成功及其编排结果。
	MarkSucceeded(ctx context.Context, id string, result *orchestrator.Result) error
	// MarkFailed 记录一次失败。terminal 为 true 时作业进入 failed 终态，
	// 否则回到 pending 等待重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// List 按创建时间倒序返回最近的作业，limit <= 0 时返回全部。
	List(ctx context.Context, limit int) ([]*Job, error)
	// Stats 汇总各状态的作业数量。
	Stats(ctx context.Context) (Stats, error)
	// Close 释放底层资源。
	Close() error
}
