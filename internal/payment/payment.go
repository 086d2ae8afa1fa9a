package payment

import (
	"encoding/json"
	"math/big"
	"strings"

	"XGov-Mesh/internal/ledger"

	xerrors "XGov-Mesh/internal/errors"
)

// ProofHeader 是重试请求中携带交易哈希的头部。
const ProofHeader = "X-Payment-Proof"

// 协议层错误码。
const (
	CodeNetworkError       xerrors.Code = "NETWORK_ERROR"
	CodeUnexpectedResponse xerrors.Code = "UNEXPECTED_RESPONSE"
	CodeInvalidChallenge   xerrors.Code = "INVALID_CHALLENGE"
	CodeServiceDenied      xerrors.Code = "SERVICE_DENIED_AFTER_PAYMENT"
)

func init() {
	xerrors.Register(CodeNetworkError, xerrors.Attributes{
		Message:   "service endpoint unreachable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeUnexpectedResponse, xerrors.Attributes{
		Message:   "service returned an unexpected response",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidChallenge, xerrors.Attributes{
		Message:   "payment challenge is malformed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeServiceDenied, xerrors.Attributes{
		Message:   "service denied delivery after payment",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// State 表示一次协议交互所处的阶段。
type State string

const (
	StateRequesting        State = "requesting"
	StateChallengeReceived State = "challenge_received"
	StatePaying            State = "paying"
	StateRetrying          State = "retrying"
	StateDelivered         State = "delivered"
	StateFailed            State = "failed"
)

// Challenge 是 402 响应携带的支付要求。
// 金额以 amount_wei 字符串为准，也兼容裸 amount 字段（字符串或整数）。
type Challenge struct {
	Recipient string          `json:"recipient"`
	AmountWei string          `json:"amount_wei,omitempty"`
	AmountRaw json.RawMessage `json:"amount,omitempty"`
	Network   string          `json:"network,omitempty"`
}

// challengeEnvelope 对应服务方 402 响应体的完整结构。
type challengeEnvelope struct {
	Error          string    `json:"error"`
	Message        string    `json:"message,omitempty"`
	PaymentDetails Challenge `json:"payment_details"`
	Instructions   string    `json:"instructions,omitempty"`
}

// Amount 把十进制金额字符串解析为 wei。
// 金额缺失、非数字或不为正数都视为非法质询。
func (c Challenge) Amount() (*big.Int, error) {
	raw := strings.TrimSpace(c.AmountWei)
	if raw == "" && len(c.AmountRaw) > 0 {
		raw = strings.Trim(strings.TrimSpace(string(c.AmountRaw)), `"`)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(CodeInvalidChallenge, "质询金额不是合法的十进制数",
			xerrors.WithMetadata("amount_wei", raw))
	}
	if amount.Sign() <= 0 {
		return nil, xerrors.New(CodeInvalidChallenge, "质询金额必须大于零",
			xerrors.WithMetadata("amount_wei", raw))
	}
	return amount, nil
}

// Outcome 汇总一次协议交互的最终结果。
// Transfer 在付款发生后总是保留，即使服务最终拒绝交付。
type Outcome struct {
	State     State               `json:"state"`
	Delivered bool                `json:"delivered"`
	Response  json.RawMessage     `json:"response,omitempty"`
	Challenge *Challenge          `json:"challenge,omitempty"`
	Transfer  *ledger.TransferRef `json:"transfer,omitempty"`
}

// Paid 报告这次交互是否实际转出了资金。
func (o *Outcome) Paid() bool {
	return o != nil && o.Transfer != nil
}
