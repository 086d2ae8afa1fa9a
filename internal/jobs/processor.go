package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/observability/alerting"
	"XGov-Mesh/internal/observability/metrics"
	"XGov-Mesh/internal/orchestrator"
)

// Executor 执行一个作业目标并返回编排结果。
// *orchestrator.Orchestrator 天然满足该接口。
type Executor interface {
	Orchestrate(ctx context.Context, goal string) (*orchestrator.Result, error)
}

// Processor 从队列中取出作业并驱动执行器完成编排。
type Processor struct {
	store    Store
	producer Producer
	executor Executor
	alerts   alerting.Dispatcher
	metrics  *metrics.Collector
}

// ProcessorOption 配置处理器的可选依赖。
type ProcessorOption func(*Processor)

// WithAlerts 注入告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerts = dispatcher }
}

// WithMetrics 注入指标收集器。
func WithMetrics(collector *metrics.Collector) ProcessorOption {
	return func(p *Processor) { p.metrics = collector }
}

// NewProcessor 组装作业处理器。
func NewProcessor(store Store, producer Producer, executor Executor, opts ...ProcessorOption) (*Processor, error) {
	if store == nil || producer == nil || executor == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "store、producer 和 executor 均不能为空")
	}
	p := &Processor{store: store, producer: producer, executor: executor}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handler 返回绑定到 Process 的队列处理函数。
func (p *Processor) Handler() Handler {
	return p.Process
}

// Process 处理一个作业 ID：认领、执行、记录结果。
// 返回非 nil 错误表示基础设施故障，由队列决定是否重新投递。
func (p *Processor) Process(ctx context.Context, jobID string) error {
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			logger.L().Warn("队列中的作业不存在，丢弃", slog.String("job_id", jobID))
			return nil
		case errors.Is(err, ErrJobCompleted):
			// 重复投递的终态作业直接丢弃。
			return nil
		case errors.Is(err, ErrJobConflict):
			logger.L().Warn("作业正在被其他处理器执行", slog.String("job_id", jobID))
			return nil
		default:
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "认领作业失败")
		}
	}

	result, execErr := p.execute(ctx, job)
	if execErr == nil {
		if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录作业成功状态失败")
		}
		if p.metrics != nil {
			p.metrics.ObserveOrchestration(result.Success)
		}
		logger.L().Info("作业执行完成",
			slog.String("job_id", job.ID),
			slog.Bool("success", result.Success),
			slog.Int("attempts", job.Attempts))
		return nil
	}

	return p.handleFailure(ctx, job, execErr)
}

// execute 运行一次编排，panic 被降级为可重试错误。
func (p *Processor) execute(ctx context.Context, job *Job) (result *orchestrator.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("作业执行发生 panic",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = xerrors.New(CodeJobProcessingFailed, fmt.Sprintf("执行器 panic: %v", r))
		}
	}()
	return p.executor.Orchestrate(ctx, job.Goal)
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	retryable := xerrors.RetryableError(execErr)
	exhausted := job.Attempts >= job.MaxRetries

	if retryable && !exhausted {
		if err := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), false); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录作业失败状态失败")
		}
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			logger.L().Error("作业重试入队失败",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			if markErr := p.store.MarkFailed(ctx, job.ID, CodeJobPublishFailed, err.Error(), true); markErr != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, markErr, "终止作业失败")
			}
			p.emitAlert(ctx, job, CodeJobPublishFailed, err)
			return nil
		}
		logger.L().Warn("作业执行失败，已安排重试",
			slog.String("job_id", job.ID),
			slog.String("code", string(code)),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_retries", job.MaxRetries))
		return nil
	}

	finalCode := code
	if retryable && exhausted {
		finalCode = CodeJobRetriesExhausted
	}
	if err := p.store.MarkFailed(ctx, job.ID, finalCode, execErr.Error(), true); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录作业终态失败")
	}
	if p.metrics != nil {
		p.metrics.ObserveOrchestration(false)
	}
	logger.L().Error("作业最终失败",
		slog.String("job_id", job.ID),
		slog.String("code", string(finalCode)),
		slog.Int("attempts", job.Attempts),
		slog.String("error", execErr.Error()))
	if finalCode == CodeJobRetriesExhausted || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, job, finalCode, execErr)
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error) {
	if p.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   cloneMetadata(job.Metadata),
		OccurredAt: time.Now().UTC(),
	}
	if err := p.alerts.Notify(ctx, event); err != nil {
		logger.L().Error("告警发送失败",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}
