package jobs

import (
	"errors"
	"time"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/orchestrator"
)

// Status 表示作业所处的生命周期阶段。
type Status string

// 作业状态
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// 作业相关错误码
const (
	CodeJobNotFound         xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict         xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted        xerrors.Code = "JOB_COMPLETED"
	CodeJobRetriesExhausted xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidationFailed xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublishFailed    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessingFailed xerrors.Code = "JOB_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "作业不存在",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "作业状态冲突",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "作业已完成，无法再次执行",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobRetriesExhausted, xerrors.Attributes{
		Message:  "作业重试次数耗尽",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidationFailed, xerrors.Attributes{
		Message:  "作业参数校验失败",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublishFailed, xerrors.Attributes{
		Message:   "作业入队失败",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessingFailed, xerrors.Attributes{
		Message:   "作业执行失败",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// 存储层通用哨兵错误，便于各实现统一比较。
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobConflict  = errors.New("job state conflict")
	ErrJobCompleted = errors.New("job already completed")
)

// Job 描述一次异步编排请求。
type Job struct {
	ID         string               `json:"id"`
	Goal       string               `json:"goal"`
	Status     Status               `json:"status"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  xerrors.Code         `json:"error_code,omitempty"`
	Metadata   map[string]string    `json:"metadata,omitempty"`
	Result     *orchestrator.Result `json:"result,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// Clone 返回作业的深拷贝，避免调用方篡改存储内部状态。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Metadata = cloneMetadata(j.Metadata)
	if j.StartedAt != nil {
		started := *j.StartedAt
		clone.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		clone.FinishedAt = &finished
	}
	return &clone
}

// Terminal 判断作业是否已进入终态。
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

// Stats 汇总各状态下的作业数量。
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
