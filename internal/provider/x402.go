package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/payment"
)

// 支付校验相关错误码
const (
	CodeProofInvalid  xerrors.Code = "PAYMENT_PROOF_INVALID"
	CodeProofReplayed xerrors.Code = "PAYMENT_PROOF_REPLAYED"
)

func init() {
	xerrors.Register(CodeProofInvalid, xerrors.Attributes{
		Message:  "支付凭证无效",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeProofReplayed, xerrors.Attributes{
		Message:  "支付凭证已被使用",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// PaymentRequirement 描述一次服务调用的收费标准。
type PaymentRequirement struct {
	Recipient string
	AmountWei *big.Int
	Network   string
}

// ProofVerifier 校验支付凭证是否对应一笔满足要求的链上转账。
type ProofVerifier interface {
	Verify(ctx context.Context, txHash string, req PaymentRequirement) error
}

// ProofCache 记录已消费的支付凭证，阻止重放。
type ProofCache interface {
	// Seen 返回凭证是否已被消费。
	Seen(ctx context.Context, txHash string) (bool, error)
	// Remember 标记凭证已消费。
	Remember(ctx context.Context, txHash string) error
}

// Middleware 将支付校验包裹在服务处理器之外。
type Middleware struct {
	requirement PaymentRequirement
	verifier    ProofVerifier
	cache       ProofCache
}

// NewMiddleware 创建支付中间件。verifier 为空时视为配置错误。
func NewMiddleware(req PaymentRequirement, verifier ProofVerifier, cache ProofCache) (*Middleware, error) {
	if !common.IsHexAddress(req.Recipient) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收款地址不合法",
			xerrors.WithMetadata("recipient", req.Recipient))
	}
	if req.AmountWei == nil || req.AmountWei.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收费金额必须为正数")
	}
	if verifier == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "verifier 不能为空")
	}
	if cache == nil {
		cache = NewMemoryProofCache(0)
	}
	return &Middleware{requirement: req, verifier: verifier, cache: cache}, nil
}

// Wrap 返回带支付校验的处理器。
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proof := strings.TrimSpace(r.Header.Get(payment.ProofHeader))
		if proof == "" {
			m.writeChallenge(w, "Service requires payment before invocation.")
			return
		}
		ctx := r.Context()
		seen, err := m.cache.Seen(ctx, proof)
		if err != nil {
			logger.L().Error("查询凭证缓存失败", slog.String("error", err.Error()))
			http.Error(w, "proof cache unavailable", http.StatusServiceUnavailable)
			return
		}
		if seen {
			logger.L().Warn("拒绝重放的支付凭证", slog.String("tx_hash", proof))
			m.writeChallenge(w, "Payment proof already consumed; a new payment is required.")
			return
		}
		if err := m.verifier.Verify(ctx, proof, m.requirement); err != nil {
			logger.L().Warn("支付凭证校验失败",
				slog.String("tx_hash", proof),
				slog.String("error", err.Error()))
			m.writeChallenge(w, "Payment proof could not be verified.")
			return
		}
		if err := m.cache.Remember(ctx, proof); err != nil {
			logger.L().Error("记录支付凭证失败",
				slog.String("tx_hash", proof),
				slog.String("error", err.Error()))
			http.Error(w, "proof cache unavailable", http.StatusServiceUnavailable)
			return
		}
		logger.Audit().Info("payment accepted",
			slog.String("tx_hash", proof),
			slog.String("recipient", m.requirement.Recipient),
			slog.String("amount_wei", m.requirement.AmountWei.String()))
		next.ServeHTTP(w, r)
	})
}

type challengeBody struct {
	Error          string            `json:"error"`
	Message        string            `json:"message,omitempty"`
	PaymentDetails payment.Challenge `json:"payment_details"`
	Instructions   string            `json:"instructions,omitempty"`
}

func (m *Middleware) writeChallenge(w http.ResponseWriter, message string) {
	body := challengeBody{
		Error:   "Payment Required",
		Message: message,
		PaymentDetails: payment.Challenge{
			Recipient: m.requirement.Recipient,
			AmountWei: m.requirement.AmountWei.String(),
			Network:   m.requirement.Network,
		},
		Instructions: "Transfer the exact amount to the recipient address, then retry with the transaction hash in the " + payment.ProofHeader + " header.",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Error("写入 402 响应失败", slog.String("error", err.Error()))
	}
}
