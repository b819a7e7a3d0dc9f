package ledger_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "trustfund/contracts/mq"
	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/service/ledger"
	"trustfund/internal/store"
	"trustfund/internal/store/memstore"
	"trustfund/internal/token"
)

func newLedger(t *testing.T) (*ledger.Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	svc, err := ledger.NewService(st, token.NewProgram(zap.NewNop()), escrow.DefaultProgramID, zap.NewNop())
	require.NoError(t, err)
	return svc, st
}

func newKey(t *testing.T) address.Address {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr, err := address.FromPublicKey(pub)
	require.NoError(t, err)
	return addr
}

func TestMintAuthorityIsDerived(t *testing.T) {
	svc, _ := newLedger(t)
	assert.False(t, address.IsOnCurve(svc.MintAuthority()))

	again, _ := newLedger(t)
	assert.Equal(t, svc.MintAuthority(), again.MintAuthority())
}

func TestCreateMint(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	mint, err := svc.CreateMint(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, svc.MintAuthority(), mint.Authority)
	assert.Zero(t, mint.Supply)

	loaded, err := svc.Mint(ctx, mint.Address)
	require.NoError(t, err)
	assert.Equal(t, mint.Address, loaded.Address)
}

func TestMintToOpensAccount(t *testing.T) {
	svc, st := newLedger(t)
	ctx := context.Background()
	owner := newKey(t)

	mint, err := svc.CreateMint(ctx, 6)
	require.NoError(t, err)

	acct, err := svc.MintTo(ctx, mint.Address, owner, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acct.Amount)
	assert.Equal(t, owner, acct.Owner)

	expected, err := token.AccountAddress(owner, mint.Address)
	require.NoError(t, err)
	assert.Equal(t, expected, acct.Address)

	acct, err = svc.MintTo(ctx, mint.Address, owner, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), acct.Amount)

	m, err := svc.Mint(ctx, mint.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), m.Supply)

	events := st.Events()
	require.Len(t, events, 2)
	assert.Equal(t, mqcontracts.RoutingTokensMinted, events[0].RoutingKey)
}

func TestMintToRejectsForeignMint(t *testing.T) {
	svc, st := newLedger(t)
	ctx := context.Background()
	foreign, owner := newKey(t), newKey(t)

	// 由其他签名者控制的 mint 不能被服务端增发
	require.NoError(t, st.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := token.NewProgram(nil).InitializeMint(ctx, tx, foreign, newKey(t), 6)
		return err
	}))

	_, err := svc.MintTo(ctx, foreign, owner, 10)
	require.ErrorIs(t, err, token.ErrMintAuthority)

	acctAddr, err := token.AccountAddress(owner, foreign)
	require.NoError(t, err)
	_, err = svc.Account(ctx, acctAddr)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMintToZeroAmount(t *testing.T) {
	svc, _ := newLedger(t)
	_, err := svc.MintTo(context.Background(), newKey(t), newKey(t), 0)
	require.ErrorIs(t, err, ledger.ErrZeroAmount)
}

func TestOpenAccountIsIdempotent(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := newKey(t)

	mint, err := svc.CreateMint(ctx, 2)
	require.NoError(t, err)

	first, err := svc.OpenAccount(ctx, owner, mint.Address)
	require.NoError(t, err)
	second, err := svc.OpenAccount(ctx, owner, mint.Address)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Zero(t, second.Amount)
}

func TestOpenAccountUnknownMint(t *testing.T) {
	svc, _ := newLedger(t)
	_, err := svc.OpenAccount(context.Background(), newKey(t), newKey(t))
	require.ErrorIs(t, err, store.ErrNotFound)
}
