package bank

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nebula-labs-xyz/lendefi-core/storage"
)

var (
	moduleAcct = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	token      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func TestLedgerMintBurnSupply(t *testing.T) {
	ledger := NewLedger(moduleAcct)

	require.NoError(t, ledger.Mint(token, alice, big.NewInt(1_000)))
	require.Zero(t, ledger.BalanceOf(token, alice).Cmp(big.NewInt(1_000)))
	require.Zero(t, ledger.TotalSupply(token).Cmp(big.NewInt(1_000)))

	require.NoError(t, ledger.Burn(token, alice, big.NewInt(400)))
	require.Zero(t, ledger.BalanceOf(token, alice).Cmp(big.NewInt(600)))
	require.Zero(t, ledger.TotalSupply(token).Cmp(big.NewInt(600)))

	require.ErrorIs(t, ledger.Burn(token, alice, big.NewInt(601)), ErrInsufficientFunds)
	require.Error(t, ledger.Mint(token, alice, big.NewInt(0)))
	require.Error(t, ledger.Mint(token, alice, nil))
}

func TestLedgerTransfers(t *testing.T) {
	ledger := NewLedger(moduleAcct)
	require.NoError(t, ledger.Mint(token, alice, big.NewInt(1_000)))

	require.NoError(t, ledger.Transfer(token, alice, bob, big.NewInt(300)))
	require.Zero(t, ledger.BalanceOf(token, bob).Cmp(big.NewInt(300)))

	require.NoError(t, ledger.TransferIn(token, alice, big.NewInt(500)))
	require.Zero(t, ledger.BalanceOf(token, moduleAcct).Cmp(big.NewInt(500)))
	require.Zero(t, ledger.BalanceOf(token, alice).Cmp(big.NewInt(200)))

	require.NoError(t, ledger.TransferOut(token, bob, big.NewInt(500)))
	require.Zero(t, ledger.BalanceOf(token, moduleAcct).Cmp(big.NewInt(0)))
	require.Zero(t, ledger.BalanceOf(token, bob).Cmp(big.NewInt(800)))

	// Insufficient funds fail the whole move; balances are untouched.
	require.ErrorIs(t, ledger.Transfer(token, alice, bob, big.NewInt(201)), ErrInsufficientFunds)
	require.Zero(t, ledger.BalanceOf(token, alice).Cmp(big.NewInt(200)))
	require.Zero(t, ledger.BalanceOf(token, bob).Cmp(big.NewInt(800)))
}

func TestTokenViewAdapters(t *testing.T) {
	ledger := NewLedger(moduleAcct)
	view := ledger.Token(token)

	require.NoError(t, view.Mint(alice, big.NewInt(250)))
	require.Zero(t, view.BalanceOf(alice).Cmp(big.NewInt(250)))
	require.Zero(t, view.TotalSupply().Cmp(big.NewInt(250)))
	require.NoError(t, view.Burn(alice, big.NewInt(100)))
	require.Zero(t, view.TotalSupply().Cmp(big.NewInt(150)))
}

func TestLedgerSnapshotRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	ledger := NewLedger(moduleAcct)
	require.NoError(t, ledger.Mint(token, alice, big.NewInt(1_000)))
	require.NoError(t, ledger.TransferIn(token, alice, big.NewInt(250)))
	require.NoError(t, ledger.Save(db))

	restored := NewLedger(common.Address{})
	require.NoError(t, restored.Load(db))
	require.Equal(t, moduleAcct, restored.ModuleAccount())
	require.Zero(t, restored.BalanceOf(token, alice).Cmp(big.NewInt(750)))
	require.Zero(t, restored.BalanceOf(token, moduleAcct).Cmp(big.NewInt(250)))
	require.Zero(t, restored.TotalSupply(token).Cmp(big.NewInt(1_000)))
	require.Len(t, restored.Tokens(), 1)
}

func TestLedgerLoadWithoutSnapshot(t *testing.T) {
	ledger := NewLedger(moduleAcct)
	require.NoError(t, ledger.Load(storage.NewMemDB()))
	require.Empty(t, ledger.Tokens())
}
