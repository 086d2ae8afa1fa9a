package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/internal/payment"
	"XGov-Mesh/internal/planner"
	"XGov-Mesh/internal/registry"
	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	"github.com/google/uuid"
)

// AgentSelector 按服务类型挑选一个智能体。
type AgentSelector interface {
	Select(ctx context.Context, category registry.Category) (*registry.AgentRecord, error)
}

// Invoker 执行一次带支付的服务调用。
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, payload any) (*payment.Outcome, error)
}

// SubTaskResult 是单个子任务的执行结果。
// Reputation 固定为选择时刻的信誉分，不随后续记账变化。
type SubTaskResult struct {
	Name            string              `json:"name"`
	Category        registry.Category   `json:"service_type"`
	AgentID         string              `json:"agent_id,omitempty"`
	Reputation      int64               `json:"reputation"`
	Delivered       bool                `json:"delivered"`
	State           payment.State       `json:"state"`
	ErrorCode       string              `json:"error_code,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	Response        json.RawMessage     `json:"response,omitempty"`
	Transfer        *ledger.TransferRef `json:"transfer,omitempty"`
	ValidationTx    string              `json:"validation_tx,omitempty"`
	ValidationError string              `json:"validation_error,omitempty"`
}

// Result 汇总整个目标的执行情况。只要有一个子任务交付成功，
// 整体就算成功。
type Result struct {
	TaskID     string          `json:"task_id"`
	Goal       string          `json:"goal"`
	Success    bool            `json:"success"`
	SubResults []SubTaskResult `json:"sub_results"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at"`
}

// invocationPayload 是发给服务智能体的请求体。
type invocationPayload struct {
	TaskID      string  `json:"task_id"`
	Task        string  `json:"task"`
	Goal        string  `json:"goal"`
	ServiceType string  `json:"service_type"`
	BudgetUSD   float64 `json:"budget_usd,omitempty"`
}

// Orchestrator 串联拆解、选择、支付调用与结果记账。
type Orchestrator struct {
	oracle   planner.Oracle
	selector AgentSelector
	invoker  Invoker
	recorder *OutcomeRecorder
}

// New 创建编排器。所有依赖都是必需的。
func New(oracle planner.Oracle, sel AgentSelector, invoker Invoker, recorder *OutcomeRecorder) (*Orchestrator, error) {
	if oracle == nil || sel == nil || invoker == nil || recorder == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "编排器依赖不完整")
	}
	return &Orchestrator{
		oracle:   oracle,
		selector: sel,
		invoker:  invoker,
		recorder: recorder,
	}, nil
}

// Orchestrate 完整执行一个用户目标。子任务按计划顺序依次处理，
// 任何单个子任务的失败都不会中断后续子任务。
func (o *Orchestrator) Orchestrate(ctx context.Context, goal string) (*Result, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标不能为空")
	}

	result := &Result{
		TaskID:    uuid.NewString(),
		Goal:      goal,
		StartedAt: time.Now().Unix(),
	}

	tasks, err := o.oracle.Plan(ctx, goal)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "任务拆解失败")
	}
	tasks = planner.Normalize(tasks)
	if len(tasks) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标未产生可执行的子任务")
	}

	logger.L().Info("开始编排",
		"task_id", result.TaskID,
		"goal", goal,
		"sub_tasks", len(tasks),
	)

	for _, task := range tasks {
		result.SubResults = append(result.SubResults, o.runSubTask(ctx, result.TaskID, goal, task))
	}

	for _, sub := range result.SubResults {
		if sub.Delivered {
			result.Success = true
			break
		}
	}
	result.FinishedAt = time.Now().Unix()

	logger.Audit().Info("编排完成",
		"task_id", result.TaskID,
		"success", result.Success,
		"sub_tasks", len(result.SubResults),
	)
	return result, nil
}

func (o *Orchestrator) runSubTask(ctx context.Context, taskID, goal string, task planner.SubTask) SubTaskResult {
	sub := SubTaskResult{
		Name:     task.Name,
		Category: task.Category,
		State:    payment.StateFailed,
	}

	agent, err := o.selector.Select(ctx, task.Category)
	if err != nil {
		sub.ErrorCode = string(xerrors.CodeOf(err))
		sub.ErrorMessage = err.Error()
		logger.L().Warn("子任务没有可用智能体",
			"task_id", taskID,
			"sub_task", task.Name,
			"category", string(task.Category),
		)
		return sub
	}
	sub.AgentID = agent.ID
	sub.Reputation = agent.ReputationScore

	// api_url 登记的是服务基地址，付费调用固定挂在 /invoke 下。
	invokeURL := strings.TrimRight(agent.Endpoint, "/") + "/invoke"
	outcome, err := o.invoker.Invoke(ctx, invokeURL, invocationPayload{
		TaskID:      taskID,
		Task:        task.Name,
		Goal:        goal,
		ServiceType: string(task.Category),
		BudgetUSD:   task.BudgetUSD,
	})
	if outcome != nil {
		sub.State = outcome.State
		sub.Delivered = outcome.Delivered
		sub.Response = outcome.Response
		sub.Transfer = outcome.Transfer
	}
	if err != nil {
		sub.ErrorCode = string(xerrors.CodeOf(err))
		sub.ErrorMessage = err.Error()
	}

	// 无论成败都要记账：成功加分，失败扣分。
	note := task.Name
	if sub.ErrorCode != "" {
		note = task.Name + ": " + sub.ErrorCode
	}
	validationTx, recordErr := o.recorder.Record(ctx, agent, taskID, sub.Delivered, note)
	sub.ValidationTx = validationTx
	if recordErr != nil {
		sub.ValidationError = string(xerrors.CodeOf(recordErr))
	}
	return sub
}
