package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// Client 按协议顺序执行：请求、质询、付款、重试。
// 付款后只重试一次，避免同一笔服务重复扣款。
type Client struct {
	payer      ledger.Payer
	httpClient *http.Client
}

// Option 调整客户端行为。
type Option func(*Client)

// WithHTTPClient 替换默认的 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient 创建协议客户端。
func NewClient(payer ledger.Payer, opts ...Option) (*Client, error) {
	if payer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供付款通道")
	}
	client := &Client{
		payer:      payer,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Invoke 调用服务端点并按需完成链上支付。
// 免费响应直接交付；402 质询先校验再付款，然后携带交易哈希重试一次。
func (c *Client) Invoke(ctx context.Context, endpoint string, payload any) (*Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求载荷失败")
	}

	outcome := &Outcome{State: StateRequesting}

	resp, err := c.post(ctx, endpoint, body, "")
	if err != nil {
		outcome.State = StateFailed
		return outcome, xerrors.Wrap(CodeNetworkError, err, "请求服务端点失败",
			xerrors.WithMetadata("endpoint", endpoint))
	}
	respBody, status, err := drain(resp)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	// 免费交付：没有质询就没有付款。
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		outcome.State = StateDelivered
		outcome.Delivered = true
		outcome.Response = respBody
		return outcome, nil
	}
	if status != http.StatusPaymentRequired {
		outcome.State = StateFailed
		return outcome, xerrors.New(CodeUnexpectedResponse,
			fmt.Sprintf("服务返回意外状态 %d", status),
			xerrors.WithMetadata("endpoint", endpoint))
	}

	outcome.State = StateChallengeReceived
	challenge, amount, err := parseChallenge(respBody)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}
	outcome.Challenge = challenge

	outcome.State = StatePaying
	ref, err := c.payer.Transfer(ctx, challenge.Recipient, amount)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}
	outcome.Transfer = ref

	logger.L().Info("支付完成，携带凭证重试",
		"endpoint", endpoint,
		"tx_hash", ref.TxHash,
		"amount_wei", amount.String(),
	)

	outcome.State = StateRetrying
	resp, err = c.post(ctx, endpoint, body, ref.TxHash)
	if err != nil {
		outcome.State = StateFailed
		return outcome, xerrors.Wrap(CodeNetworkError, err, "付款后重试请求失败",
			xerrors.WithMetadata("endpoint", endpoint),
			xerrors.WithMetadata("tx_hash", ref.TxHash))
	}
	respBody, status, err = drain(resp)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		outcome.State = StateDelivered
		outcome.Delivered = true
		outcome.Response = respBody
		return outcome, nil
	}

	// 已经付款却未交付，不再重试，把凭证留在结果里供追责。
	outcome.State = StateFailed
	return outcome, xerrors.New(CodeServiceDenied,
		fmt.Sprintf("付款后服务仍拒绝交付，状态 %d", status),
		xerrors.WithMetadata("endpoint", endpoint),
		xerrors.WithMetadata("tx_hash", ref.TxHash))
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, proof string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if proof != "" {
		req.Header.Set(ProofHeader, proof)
	}
	return c.httpClient.Do(req)
}

func drain(resp *http.Response) (json.RawMessage, int, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, xerrors.Wrap(CodeNetworkError, err, "读取服务响应失败")
	}
	return body, resp.StatusCode, nil
}

// parseChallenge 校验质询结构；任何缺陷都在付款发生之前拦截。
func parseChallenge(body []byte) (*Challenge, *big.Int, error) {
	var envelope challengeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, xerrors.Wrap(CodeInvalidChallenge, err, "解析支付质询失败")
	}

	challenge := envelope.PaymentDetails
	challenge.Recipient = strings.TrimSpace(challenge.Recipient)
	if !common.IsHexAddress(challenge.Recipient) {
		return nil, nil, xerrors.New(CodeInvalidChallenge, "质询中的收款地址非法",
			xerrors.WithMetadata("recipient", challenge.Recipient))
	}
	amount, err := challenge.Amount()
	if err != nil {
		return nil, nil, err
	}
	return &challenge, amount, nil
}
