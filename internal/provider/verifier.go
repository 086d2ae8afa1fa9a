package provider

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "XGov-Mesh/internal/errors"
)

// chainBackend 抽象校验支付所需的链上查询能力，便于测试注入。
type chainBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ChainVerifier 通过链上交易回执校验支付凭证。
type ChainVerifier struct {
	backend chainBackend
}

var _ ProofVerifier = (*ChainVerifier)(nil)

// NewChainVerifier 连接 RPC 节点并返回校验器。
func NewChainVerifier(ctx context.Context, rpcURL string) (*ChainVerifier, error) {
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RPC 节点失败",
			xerrors.WithMetadata("rpc_url", rpcURL))
	}
	return &ChainVerifier{backend: ethclient.NewClient(rpcClient)}, nil
}

func newChainVerifierWithBackend(backend chainBackend) *ChainVerifier {
	return &ChainVerifier{backend: backend}
}

// Verify 校验交易哈希对应的转账满足收款地址与金额要求。
func (v *ChainVerifier) Verify(ctx context.Context, txHash string, req PaymentRequirement) error {
	if !isTxHash(txHash) {
		return xerrors.New(CodeProofInvalid, "交易哈希格式不合法",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	hash := common.HexToHash(txHash)
	tx, pending, err := v.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return xerrors.Wrap(CodeProofInvalid, err, "查询交易失败",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if pending {
		return xerrors.New(CodeProofInvalid, "交易尚未上链",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	to := tx.To()
	if to == nil || !strings.EqualFold(to.Hex(), req.Recipient) {
		return xerrors.New(CodeProofInvalid, "交易收款地址不匹配",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if tx.Value().Cmp(req.AmountWei) < 0 {
		return xerrors.New(CodeProofInvalid, "转账金额不足",
			xerrors.WithMetadata("tx_hash", txHash),
			xerrors.WithMetadata("amount_wei", tx.Value().String()))
	}
	receipt, err := v.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return xerrors.Wrap(CodeProofInvalid, err, "查询交易回执失败",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return xerrors.New(CodeProofInvalid, "交易执行失败",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	return nil
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
