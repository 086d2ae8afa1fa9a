package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

const defaultMaxRetries = 3

// Service 是作业提交与查询的入口。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 组装作业服务。
func NewService(store Store, producer Producer, maxRetries int) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "store 不能为空")
	}
	if producer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "producer 不能为空")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}, nil
}

// Submit 创建作业并将其投递到执行队列。
func (s *Service) Submit(ctx context.Context, goal string, metadata map[string]string) (*Job, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, xerrors.New(CodeJobValidationFailed, "作业目标不能为空")
	}
	job := &Job{
		ID:         uuid.NewString(),
		Goal:       goal,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
		Metadata:   cloneMetadata(metadata),
	}
	if err := s.store.Create(ctx, job); err != nil {
		if errors.Is(err, ErrJobConflict) {
			// uuid 碰撞几乎不可能，换一个 ID 再试一次。
			job.ID = uuid.NewString()
			if retryErr := s.store.Create(ctx, job); retryErr != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, retryErr, "创建作业失败")
			}
		} else {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建作业失败")
		}
	}
	if err := s.producer.Publish(ctx, job.ID); err != nil {
		if markErr := s.store.MarkFailed(ctx, job.ID, CodeJobPublishFailed, err.Error(), true); markErr != nil {
			logger.L().Error("作业入队失败后无法标记失败",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()))
		}
		return nil, xerrors.Wrap(CodeJobPublishFailed, err, "作业入队失败")
	}
	logger.L().Info("作业已提交",
		slog.String("job_id", job.ID),
		slog.String("goal", goal))
	return job, nil
}

// Get 返回作业快照。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, xerrors.Wrap(CodeJobNotFound, err, "作业不存在",
				xerrors.WithMetadata("job_id", id))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	return job, nil
}

// List 返回最近创建的作业。
func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	items, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业列表失败")
	}
	return items, nil
}

// Stats 返回作业状态分布。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计作业失败")
	}
	return stats, nil
}

// WaitUntilCompleted 轮询作业直到进入终态或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, pollInterval time.Duration) (*Job, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待作业完成超时",
				xerrors.WithMetadata("job_id", id))
		case <-ticker.C:
		}
	}
}

// Close 释放存储资源。
func (s *Service) Close() error {
	return s.store.Close()
}
