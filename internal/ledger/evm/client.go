package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// 普通转账的固定燃料上限。
const transferGasLimit = 21000

const (
	defaultConfirmTimeout = 90 * time.Second
	defaultPollInterval   = 2 * time.Second
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name           string
	RPCURL         string
	JournalAddress string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Notes          string
}

// ethBackend mirrors the subset of ethclient methods the client depends on,
// so tests can substitute an in-process implementation.
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
}

// Client implements the ledger.Client interface for EVM compatible chains.
type Client struct {
	name           string
	notes          string
	rpcClient      *gethrpc.Client
	eth            ethBackend
	signer         *ledger.Signer
	journal        common.Address
	confirmTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config, signer *ledger.Signer) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置链 RPC 地址")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置付款账户签名器")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接链节点失败")
	}

	client := &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		rpcClient:      rpcClient,
		eth:            ethclient.NewClient(rpcClient),
		signer:         signer,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if cfg.JournalAddress != "" {
		if !common.IsHexAddress(cfg.JournalAddress) {
			rpcClient.Close()
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的日志账户地址: %s", cfg.JournalAddress))
		}
		client.journal = common.HexToAddress(cfg.JournalAddress)
	}
	if client.confirmTimeout <= 0 {
		client.confirmTimeout = defaultConfirmTimeout
	}
	if client.pollInterval <= 0 {
		client.pollInterval = defaultPollInterval
	}
	return client, nil
}

// newWithBackend 供测试注入进程内后端。
func newWithBackend(name string, backend ethBackend, signer *ledger.Signer, journal common.Address) *Client {
	return &Client{
		name:           name,
		eth:            backend,
		signer:         signer,
		journal:        journal,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   time.Millisecond,
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchSnapshot(ctx context.Context) (ledger.Snapshot, error) {
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return ledger.Snapshot{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "获取最新区块高度失败")
	}
	return ledger.Snapshot{
		Name:        c.name,
		ChainID:     "0x" + chainID.Text(16),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// RequestFunds 尽力通过开发链的测试接口为付款账户充值。
// 依次尝试 anvil 与 hardhat 的 setBalance 方法，生产链上必然失败。
func (c *Client) RequestFunds(ctx context.Context, amountWei *big.Int) error {
	if c.rpcClient == nil {
		return xerrors.New(xerrors.CodeLedgerFailure, "当前客户端不支持充值接口")
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "充值金额必须为正数")
	}
	balance := "0x" + amountWei.Text(16)
	var lastErr error
	for _, method := range []string{"anvil_setBalance", "hardhat_setBalance"} {
		if err := c.rpcClient.CallContext(ctx, nil, method, c.signer.Address().Hex(), balance); err != nil {
			lastErr = err
			continue
		}
		logger.L().Info("已通过开发链接口充值",
			"method", method,
			"address", c.signer.Address().Hex(),
			"amount_wei", amountWei.String())
		return nil
	}
	return xerrors.Wrap(xerrors.CodeLedgerFailure, lastErr, "开发链充值失败")
}

// Transfer 向收款地址发送一笔 EIP-1559 转账并等待确认。
// 返回的回执里携带交易哈希，供服务重试时作为支付凭证。
func (c *Client) Transfer(ctx context.Context, recipient string, amountWei *big.Int) (*ledger.TransferRef, error) {
	if !common.IsHexAddress(recipient) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的收款地址: %s", recipient))
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于零")
	}

	from := c.signer.Address()
	balance, err := c.eth.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodePaymentFailed, err, "查询付款账户余额失败")
	}
	if balance.Cmp(amountWei) < 0 {
		return nil, xerrors.New(ledger.CodePaymentFailed,
			fmt.Sprintf("付款账户余额不足: 余额 %s, 需要 %s", balance, amountWei),
			xerrors.WithMetadata("recipient", recipient))
	}

	to := common.HexToAddress(recipient)
	signed, err := c.buildSignedTx(ctx, &to, amountWei, nil, transferGasLimit)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(ledger.CodePaymentFailed, err, "广播转账交易失败")
	}

	logger.L().Info("转账交易已广播",
		"chain", c.name,
		"tx_hash", signed.Hash().Hex(),
		"recipient", recipient,
		"amount_wei", amountWei.String(),
	)

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(ledger.CodePaymentFailed, "转账交易被链上回滚",
			xerrors.WithMetadata("tx_hash", signed.Hash().Hex()))
	}

	return &ledger.TransferRef{
		TxHash:      signed.Hash().Hex(),
		Recipient:   recipient,
		AmountWei:   new(big.Int).Set(amountWei),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// RecordValidation 把验证结果编码为交易数据写入日志账户。
func (c *Client) RecordValidation(ctx context.Context, record ledger.ValidationRecord) (string, error) {
	if c.journal == (common.Address{}) {
		return "", xerrors.New(ledger.CodeValidationRecordFailed, "未配置链上日志账户")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, err, "序列化验证记录失败")
	}

	gas, err := c.eth.EstimateGas(ctx, gethcore.CallMsg{
		From: c.signer.Address(),
		To:   &c.journal,
		Data: payload,
	})
	if err != nil {
		return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, err, "估算验证记录燃料失败")
	}

	signed, err := c.buildSignedTx(ctx, &c.journal, big.NewInt(0), payload, gas)
	if err != nil {
		return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, err, "构造验证记录交易失败")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, err, "广播验证记录交易失败")
	}

	if _, err := c.waitMined(ctx, signed.Hash()); err != nil {
		return "", xerrors.Wrap(ledger.CodeValidationRecordFailed, err, "验证记录交易未确认")
	}
	return signed.Hash().Hex(), nil
}

// ScanProviders 过滤日志账户上的公告事件，返回出现过的服务方账户。
// 事件的第一个索引参数是服务方地址。
func (c *Client) ScanProviders(ctx context.Context, fromBlock uint64) ([]ledger.ProviderAccount, error) {
	if c.journal == (common.Address{}) {
		return nil, nil
	}

	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.journal},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "扫描服务方公告失败")
	}

	seen := make(map[common.Address]uint64)
	var order []common.Address
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		addr := common.BytesToAddress(lg.Topics[1].Bytes())
		if _, ok := seen[addr]; !ok {
			order = append(order, addr)
		}
		if lg.BlockNumber > seen[addr] {
			seen[addr] = lg.BlockNumber
		}
	}

	accounts := make([]ledger.ProviderAccount, 0, len(order))
	for _, addr := range order {
		accounts = append(accounts, ledger.ProviderAccount{
			Address:       addr.Hex(),
			LastSeenBlock: seen[addr],
		})
	}
	return accounts, nil
}

// buildSignedTx 组装并签署 EIP-1559 交易。
func (c *Client) buildSignedTx(ctx context.Context, to *common.Address, value *big.Int, data []byte, gas uint64) (*coretypes.Transaction, error) {
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询账户 nonce 失败")
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询小费价格失败")
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询最新区块头失败")
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	})
	return c.signer.SignTx(tx, chainID)
}

// waitMined 轮询回执直到交易被打包或超出确认窗口。
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	deadline := time.NewTimer(c.confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询交易回执失败")
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(ledger.CodeConfirmationTimeout, ctx.Err(), "等待交易确认被取消",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-deadline.C:
			return nil, xerrors.New(ledger.CodeConfirmationTimeout, "等待交易确认超时",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "获取链 ID 失败")
	}
	c.chainID = chainID
	return chainID, nil
}

// ensure interface compliance at compile time
var _ ledger.Client = (*Client)(nil)
