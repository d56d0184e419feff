package farm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend accepts transactions and serves a canned receipt for them, so
// the blocking write path can be exercised without a node.
type stubBackend struct {
	mu            sync.Mutex
	sent          []*types.Transaction
	receiptStatus uint64
}

func (b *stubBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (b *stubBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (b *stubBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1)}, nil
}

func (b *stubBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{1}, nil
}

func (b *stubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *stubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *stubBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *stubBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}

func (b *stubBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *stubBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *stubBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (b *stubBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{Status: b.receiptStatus, TxHash: txHash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func newChefOnStub(t *testing.T, backend *stubBackend) (*MasterChef, *bind.TransactOpts) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1))
	require.NoError(t, err)
	signer.GasPrice = big.NewInt(1)
	signer.GasLimit = 60000

	chef, err := NewMasterChef(common.HexToAddress("0xC9"), backend, signer, "")
	require.NoError(t, err)
	return chef, signer
}

func TestMasterChefHarvestBlocksUntilMined(t *testing.T) {
	backend := &stubBackend{receiptStatus: types.ReceiptStatusSuccessful}
	chef, signer := newChefOnStub(t, backend)

	require.NoError(t, chef.HarvestRewards(context.Background(), 1, signer.From))
	assert.Len(t, backend.sent, 1, "the claim transaction must reach the node before balances are re-read")
}

func TestMasterChefDepositSurfacesRevertedReceipt(t *testing.T) {
	backend := &stubBackend{receiptStatus: types.ReceiptStatusFailed}
	chef, signer := newChefOnStub(t, backend)

	err := chef.Deposit(context.Background(), 1, big.NewInt(100), signer.From)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted", "a mined-but-failed transaction is a write failure")
}
