package ledger

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	xerrors "XGov-Mesh/internal/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 持有付款账户的私钥，负责派生地址并签署交易。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner 从十六进制私钥构造签名器。允许带 0x 前缀。
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置付款账户私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析付款账户私钥失败")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回付款账户地址。
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx 使用账户私钥签署交易。
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, xerrors.Wrap(CodePaymentFailed, err, "签署交易失败")
	}
	return signed, nil
}
