package orchestrator

import (
	"context"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/internal/registry"
	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

const defaultRecordAttempts = 2

// OutcomeRecorder 把子任务结果同时写入信誉注册表和链上日志。
// 链上写入按至少一次语义重试；记录失败只告警，不改变子任务结果。
type OutcomeRecorder struct {
	store    registry.Store
	journal  ledger.Recorder
	attempts int
}

// NewOutcomeRecorder 创建结果记录器。journal 可以为 nil，表示只记内存信誉。
func NewOutcomeRecorder(store registry.Store, journal ledger.Recorder) *OutcomeRecorder {
	return &OutcomeRecorder{
		store:    store,
		journal:  journal,
		attempts: defaultRecordAttempts,
	}
}

// Record 落账一次子任务结果，返回链上验证交易哈希（若有）。
// 未配置链上日志时返回空哈希和 nil；重试耗尽后返回
// VALIDATION_RECORD_FAILED 错误，调用方据此在结果中上报。
func (r *OutcomeRecorder) Record(ctx context.Context, agent *registry.AgentRecord, taskID string, success bool, note string) (string, error) {
	if updated, err := r.store.RecordOutcome(ctx, agent.ID, success); err != nil {
		logger.L().Error("更新信誉分数失败",
			"agent_id", agent.ID,
			"task_id", taskID,
			"error", err.Error(),
		)
	} else {
		logger.Audit().Info("信誉已更新",
			"agent_id", agent.ID,
			"task_id", taskID,
			"success", success,
			"score", updated.ReputationScore,
		)
	}

	if r.journal == nil {
		return "", nil
	}

	record := ledger.ValidationRecord{
		AgentID: agent.ID,
		Address: agent.Address,
		TaskID:  taskID,
		Success: success,
		Note:    note,
	}
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		txHash, err := r.journal.RecordValidation(ctx, record)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
	}
	logger.L().Warn("链上验证记录失败",
		"agent_id", agent.ID,
		"agent_address", agent.Address,
		"task_id", taskID,
		"attempts", r.attempts,
		"error", lastErr.Error(),
	)
	return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, lastErr, "链上验证记录失败")
}
