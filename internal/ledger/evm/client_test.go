package evm

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"XGov-Mesh/internal/ledger"

	xerrors "XGov-Mesh/internal/errors"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testRecipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testJournal   = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

// fakeBackend 在进程内模拟节点行为，避免测试依赖真实链。
type fakeBackend struct {
	chainID       *big.Int
	balance       *big.Int
	receiptDelay  int
	receiptStatus uint64
	neverMine     bool
	logs          []coretypes.Log

	polls int
	sent  []*coretypes.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:       big.NewInt(31337),
		balance:       big.NewInt(1_000_000_000),
		receiptStatus: coretypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{Number: big.NewInt(42), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	if f.neverMine {
		return nil, gethcore.NotFound
	}
	f.polls++
	if f.polls <= f.receiptDelay {
		return nil, gethcore.NotFound
	}
	return &coretypes.Receipt{
		Status:      f.receiptStatus,
		TxHash:      txHash,
		BlockNumber: big.NewInt(43),
	}, nil
}

func (f *fakeBackend) FilterLogs(context.Context, gethcore.FilterQuery) ([]coretypes.Log, error) {
	return f.logs, nil
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	signer, err := ledger.NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return newWithBackend("testnet", backend, signer, testJournal)
}

func TestTransferSuccess(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptDelay = 2
	client := newTestClient(t, backend)

	ref, err := client.Transfer(context.Background(), testRecipient, big.NewInt(1000))
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if ref.TxHash == "" {
		t.Fatal("expected transaction hash in transfer ref")
	}
	if ref.Recipient != testRecipient {
		t.Fatalf("recipient = %s, want %s", ref.Recipient, testRecipient)
	}
	if ref.AmountWei.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("amount = %s, want 1000", ref.AmountWei)
	}
	if ref.BlockNumber != 43 {
		t.Fatalf("block = %d, want 43", ref.BlockNumber)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.To() == nil || tx.To().Hex() != common.HexToAddress(testRecipient).Hex() {
		t.Fatalf("tx to = %v, want %s", tx.To(), testRecipient)
	}
	if tx.Value().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("tx value = %s, want 1000", tx.Value())
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(backend.chainID), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != client.signer.Address() {
		t.Fatalf("sender = %s, want %s", sender.Hex(), client.signer.Address().Hex())
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	backend := newFakeBackend()
	backend.balance = big.NewInt(10)
	client := newTestClient(t, backend)

	_, err := client.Transfer(context.Background(), testRecipient, big.NewInt(1000))
	if xerrors.CodeOf(err) != ledger.CodePaymentFailed {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), ledger.CodePaymentFailed)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("sent %d transactions, want 0", len(backend.sent))
	}
}

func TestTransferRejectsBadInput(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	ctx := context.Background()

	if _, err := client.Transfer(ctx, "not-an-address", big.NewInt(1)); err == nil {
		t.Fatal("expected error for malformed recipient")
	}
	if _, err := client.Transfer(ctx, testRecipient, big.NewInt(0)); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if len(backend.sent) != 0 {
		t.Fatalf("sent %d transactions, want 0", len(backend.sent))
	}
}

func TestTransferConfirmationTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.neverMine = true
	client := newTestClient(t, backend)
	client.confirmTimeout = 20 * time.Millisecond
	client.pollInterval = time.Millisecond

	_, err := client.Transfer(context.Background(), testRecipient, big.NewInt(1000))
	if xerrors.CodeOf(err) != ledger.CodeConfirmationTimeout {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), ledger.CodeConfirmationTimeout)
	}
	if !xerrors.RetryableError(err) {
		t.Fatal("confirmation timeout should be retryable")
	}
}

func TestTransferReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = coretypes.ReceiptStatusFailed
	client := newTestClient(t, backend)

	_, err := client.Transfer(context.Background(), testRecipient, big.NewInt(1000))
	if xerrors.CodeOf(err) != ledger.CodePaymentFailed {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), ledger.CodePaymentFailed)
	}
}

func TestRecordValidation(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	agentAddr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	hash, err := client.RecordValidation(context.Background(), ledger.ValidationRecord{
		AgentID: "scraper-001",
		Address: agentAddr,
		TaskID:  "task-1",
		Success: true,
	})
	if err != nil {
		t.Fatalf("RecordValidation: %v", err)
	}
	if hash == "" {
		t.Fatal("expected transaction hash")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.To() == nil || *tx.To() != testJournal {
		t.Fatalf("tx to = %v, want journal %s", tx.To(), testJournal.Hex())
	}
	if len(tx.Data()) == 0 {
		t.Fatal("expected encoded record in tx data")
	}
	// 链上消费者以服务方地址为主键，编码后的记录必须带上它。
	if !strings.Contains(string(tx.Data()), agentAddr) {
		t.Fatalf("tx data %s lacks agent address", tx.Data())
	}
}

func TestRecordValidationWithoutJournal(t *testing.T) {
	backend := newFakeBackend()
	signer, err := ledger.NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	client := newWithBackend("testnet", backend, signer, common.Address{})

	_, err = client.RecordValidation(context.Background(), ledger.ValidationRecord{AgentID: "a"})
	if xerrors.CodeOf(err) != ledger.CodeValidationRecordFailed {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), ledger.CodeValidationRecordFailed)
	}
}

func TestScanProviders(t *testing.T) {
	providerA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	providerB := common.HexToAddress("0x2222222222222222222222222222222222222222")
	topic := common.HexToHash("0xabcdef")

	backend := newFakeBackend()
	backend.logs = []coretypes.Log{
		{Topics: []common.Hash{topic, common.BytesToHash(providerA.Bytes())}, BlockNumber: 10},
		{Topics: []common.Hash{topic, common.BytesToHash(providerB.Bytes())}, BlockNumber: 11},
		{Topics: []common.Hash{topic, common.BytesToHash(providerA.Bytes())}, BlockNumber: 15},
		{Topics: []common.Hash{topic}, BlockNumber: 16}, // 缺少地址参数，忽略
	}
	client := newTestClient(t, backend)

	accounts, err := client.ScanProviders(context.Background(), 0)
	if err != nil {
		t.Fatalf("ScanProviders: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	if accounts[0].Address != providerA.Hex() || accounts[0].LastSeenBlock != 15 {
		t.Fatalf("unexpected first account: %+v", accounts[0])
	}
	if accounts[1].Address != providerB.Hex() || accounts[1].LastSeenBlock != 11 {
		t.Fatalf("unexpected second account: %+v", accounts[1])
	}
}

func TestFetchSnapshot(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	snap, err := client.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.ChainID != "0x7a69" {
		t.Fatalf("chain id = %s, want 0x7a69", snap.ChainID)
	}
	if snap.BlockNumber != "0x2a" {
		t.Fatalf("block = %s, want 0x2a", snap.BlockNumber)
	}
	if snap.Name != "testnet" {
		t.Fatalf("name = %s, want testnet", snap.Name)
	}
}

func TestRequestFundsUnsupportedWithoutRPC(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	err := client.RequestFunds(context.Background(), big.NewInt(1))
	if err == nil {
		t.Fatal("expected error when no RPC connection is available")
	}
	if xerrors.CodeOf(err) != xerrors.CodeLedgerFailure {
		t.Fatalf("code = %s, want LEDGER_FAILURE", xerrors.CodeOf(err))
	}
}
