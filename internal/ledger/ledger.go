package ledger

import (
	"context"
	"math/big"

	xerrors "XGov-Mesh/internal/errors"
)

// 账本层专用错误码。
const (
	CodePaymentFailed          xerrors.Code = "PAYMENT_FAILED"
	CodeConfirmationTimeout    xerrors.Code = "CONFIRMATION_TIMEOUT"
	CodeValidationRecordFailed xerrors.Code = "VALIDATION_RECORD_FAILED"
)

func init() {
	xerrors.Register(CodePaymentFailed, xerrors.Attributes{
		Message:   "payment transfer failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeConfirmationTimeout, xerrors.Attributes{
		Message:   "transaction confirmation timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeValidationRecordFailed, xerrors.Attributes{
		Message:   "validation record submission failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// TransferRef 是一笔已确认转账的回执。
type TransferRef struct {
	TxHash      string   `json:"tx_hash"`
	Recipient   string   `json:"recipient"`
	AmountWei   *big.Int `json:"amount_wei"`
	BlockNumber uint64   `json:"block_number"`
}

// ValidationRecord 描述写入链上日志的一次服务验证结果。
// Address 是被验证服务方的链上账户，链上消费者以它为主键。
type ValidationRecord struct {
	AgentID string `json:"agent_id"`
	Address string `json:"address"`
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Note    string `json:"note,omitempty"`
}

// ProviderAccount 是在链上公告过自己的服务方账户。
type ProviderAccount struct {
	Address       string `json:"address"`
	LastSeenBlock uint64 `json:"last_seen_block"`
}

// Snapshot 汇总链的基础元数据，供健康检查与报表使用。
type Snapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Payer 提交价值转账并等待确认。
type Payer interface {
	Transfer(ctx context.Context, recipient string, amountWei *big.Int) (*TransferRef, error)
}

// Recorder 把验证结果写入链上日志。
type Recorder interface {
	RecordValidation(ctx context.Context, record ValidationRecord) (string, error)
}

// Directory 扫描链上公告，返回已知服务方账户。
type Directory interface {
	ScanProviders(ctx context.Context, fromBlock uint64) ([]ProviderAccount, error)
}

// Client 是上层统一依赖的链客户端接口。
type Client interface {
	Payer
	Recorder
	Directory
	// RequestFunds 尽力为付款账户充值，仅开发链支持。
	RequestFunds(ctx context.Context, amountWei *big.Int) error
	FetchSnapshot(ctx context.Context) (Snapshot, error)
	Close()
}
