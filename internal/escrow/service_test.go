package escrow_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "trustfund/contracts/mq"
	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/model"
	"trustfund/internal/store"
	"trustfund/internal/store/memstore"
	"trustfund/internal/token"
)

type fixture struct {
	store   *memstore.Store
	program *token.Program
	svc     *escrow.Service

	mint          address.Address
	mintAuthority address.Address

	client        address.Address
	freelancer    address.Address
	clientATA     address.Address
	freelancerATA address.Address
}

func newKey(t *testing.T) address.Address {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr, err := address.FromPublicKey(pub)
	require.NoError(t, err)
	return addr
}

// newFixture 创建 6 位精度的 mint，客户端持有 1000 个单位
func newFixture(t *testing.T, opts ...escrow.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:         memstore.New(),
		program:       token.NewProgram(zap.NewNop()),
		mint:          newKey(t),
		mintAuthority: newKey(t),
		client:        newKey(t),
		freelancer:    newKey(t),
	}
	f.svc = escrow.NewService(f.store, f.program, zap.NewNop(), opts...)
	f.clientATA = f.openAccount(t, f.client)
	f.freelancerATA = f.openAccount(t, f.freelancer)

	err := f.store.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return f.program.MintTo(ctx, tx, token.MintToParams{
			Mint:        f.mint,
			Destination: f.clientATA,
			Authority:   token.Signer(f.mintAuthority),
			Amount:      1000,
		})
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) openAccount(t *testing.T, owner address.Address) address.Address {
	t.Helper()
	addr, err := token.AccountAddress(owner, f.mint)
	require.NoError(t, err)
	err = f.store.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Mint(ctx, f.mint); errors.Is(err, store.ErrNotFound) {
			if _, err := f.program.InitializeMint(ctx, tx, f.mint, f.mintAuthority, 6); err != nil {
				return err
			}
		}
		_, err := f.program.InitializeAccount(ctx, tx, token.InitializeAccountParams{
			Address: addr,
			Mint:    f.mint,
			Owner:   owner,
		})
		return err
	})
	require.NoError(t, err)
	return addr
}

func (f *fixture) balance(t *testing.T, addr address.Address) uint64 {
	t.Helper()
	var amount uint64
	err := f.store.View(context.Background(), func(ctx context.Context, r store.Reader) error {
		acct, err := r.TokenAccount(ctx, addr)
		if err != nil {
			return err
		}
		amount = acct.Amount
		return nil
	})
	require.NoError(t, err)
	return amount
}

func (f *fixture) vaultBalance(t *testing.T, project address.Address) uint64 {
	t.Helper()
	vault, err := f.svc.Vault(context.Background(), project)
	require.NoError(t, err)
	return vault.Amount
}

func (f *fixture) initProject(t *testing.T) *model.Project {
	t.Helper()
	p, err := f.svc.InitializeProject(context.Background(), escrow.InitializeProjectParams{
		Client:    f.client,
		Mint:      f.mint,
		ProjectID: "job-1",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addMilestone(t *testing.T, project address.Address, id uint8, amount uint64) *model.Milestone {
	t.Helper()
	m, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            project,
		MilestoneID:        id,
		Amount:             amount,
		ClientTokenAccount: f.clientATA,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) accept(t *testing.T, project address.Address) {
	t.Helper()
	_, err := f.svc.AcceptProject(context.Background(), escrow.AcceptProjectParams{
		Freelancer: f.freelancer,
		Project:    project,
	})
	require.NoError(t, err)
}

func (f *fixture) release(project, milestone address.Address) error {
	_, err := f.svc.ReleaseFunds(context.Background(), escrow.ReleaseFundsParams{
		Client:                 f.client,
		Project:                project,
		Milestone:              milestone,
		FreelancerTokenAccount: f.freelancerATA,
	})
	return err
}

func TestInitializeProject(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	expected, err := f.svc.ProjectAddress(f.client)
	require.NoError(t, err)
	assert.Equal(t, expected, p.Address)
	assert.Equal(t, f.client, p.Owner)
	assert.Nil(t, p.Assignee)
	assert.Equal(t, model.ProjectCreated, p.Status)
	assert.Equal(t, "job-1", p.ProjectID)

	vault, err := f.svc.Vault(context.Background(), p.Address)
	require.NoError(t, err)
	authority, err := f.svc.VaultAuthorityAddress(p.Address)
	require.NoError(t, err)
	assert.Equal(t, authority, vault.Owner)
	assert.Equal(t, f.mint, vault.Mint)
	assert.Zero(t, vault.Amount)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.RoutingProjectInitialized, events[0].RoutingKey)
}

func TestInitializeProjectTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.initProject(t)

	_, err := f.svc.InitializeProject(context.Background(), escrow.InitializeProjectParams{
		Client:    f.client,
		Mint:      f.mint,
		ProjectID: "job-2",
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Equal(t, "AccountAlreadyInUse", escrow.Code(err))

	p, err := f.svc.Project(context.Background(), mustProjectAddress(t, f))
	require.NoError(t, err)
	assert.Equal(t, "job-1", p.ProjectID)
}

func TestInitializeProjectValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InitializeProject(context.Background(), escrow.InitializeProjectParams{
		Client:    f.client,
		Mint:      f.mint,
		ProjectID: strings.Repeat("x", model.MaxProjectIDLen+1),
	})
	require.ErrorIs(t, err, escrow.ErrProjectIDTooLong)

	_, err = f.svc.InitializeProject(context.Background(), escrow.InitializeProjectParams{
		Client:    f.client,
		Mint:      newKey(t),
		ProjectID: "job-1",
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	// 失败的初始化不能留下项目记录
	_, err = f.svc.Project(context.Background(), mustProjectAddress(t, f))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestScenarioJob1(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	m1 := f.addMilestone(t, p.Address, 0, 100)
	m2 := f.addMilestone(t, p.Address, 1, 50)
	assert.Equal(t, uint64(150), f.vaultBalance(t, p.Address))
	assert.Equal(t, uint64(850), f.balance(t, f.clientATA))

	f.accept(t, p.Address)
	require.NoError(t, f.release(p.Address, m1.Address))

	assert.Equal(t, uint64(50), f.vaultBalance(t, p.Address))
	assert.Equal(t, uint64(100), f.balance(t, f.freelancerATA))

	released, err := f.svc.Milestone(context.Background(), m1.Address)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneReleased, released.Status)

	pending, err := f.svc.Milestone(context.Background(), m2.Address)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePending, pending.Status)

	assert.Equal(t, "0.0001", token.UIAmount(f.balance(t, f.freelancerATA), 6).String())
}

func TestMilestoneIDBounds(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	first := f.addMilestone(t, p.Address, 0, 10)
	last := f.addMilestone(t, p.Address, 255, 20)
	assert.NotEqual(t, first.Address, last.Address)
	assert.Equal(t, uint8(255), last.MilestoneID)

	want, bump, err := address.FindProgramAddress(address.MilestoneSeeds(p.Address, 255), escrow.DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, last.Address)
	assert.Equal(t, bump, last.Bump)

	list, err := f.svc.Milestones(context.Background(), p.Address)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint8(0), list[0].MilestoneID)
	assert.Equal(t, uint8(255), list[1].MilestoneID)

	f.accept(t, p.Address)
	require.NoError(t, f.release(p.Address, last.Address))
	require.NoError(t, f.release(p.Address, first.Address))
	assert.Zero(t, f.vaultBalance(t, p.Address))
	assert.Equal(t, uint64(30), f.balance(t, f.freelancerATA))
}

func TestVaultHoldsSumOfPendingMilestones(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	amounts := map[uint8]uint64{1: 100, 2: 250, 3: 75, 4: 5}
	var milestones []*model.Milestone
	for id := uint8(1); id <= 4; id++ {
		milestones = append(milestones, f.addMilestone(t, p.Address, id, amounts[id]))
	}
	f.accept(t, p.Address)

	pendingSum := func() uint64 {
		list, err := f.svc.Milestones(context.Background(), p.Address)
		require.NoError(t, err)
		var sum uint64
		for _, m := range list {
			if m.Status == model.MilestonePending {
				sum += m.Amount
			}
		}
		return sum
	}

	assert.Equal(t, pendingSum(), f.vaultBalance(t, p.Address))
	for _, m := range milestones {
		require.NoError(t, f.release(p.Address, m.Address))
		assert.Equal(t, pendingSum(), f.vaultBalance(t, p.Address))
	}
	assert.Zero(t, f.vaultBalance(t, p.Address))
	assert.Equal(t, uint64(430), f.balance(t, f.freelancerATA))
}

func TestAcceptProjectTwice(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	f.accept(t, p.Address)

	other := newKey(t)
	_, err := f.svc.AcceptProject(context.Background(), escrow.AcceptProjectParams{
		Freelancer: other,
		Project:    p.Address,
	})
	require.ErrorIs(t, err, escrow.ErrProjectAlreadyAccepted)

	got, err := f.svc.Project(context.Background(), p.Address)
	require.NoError(t, err)
	require.NotNil(t, got.Assignee)
	assert.Equal(t, f.freelancer, *got.Assignee)
	assert.Equal(t, model.ProjectAccepted, got.Status)
}

func TestReleaseTwiceSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	require.NoError(t, f.release(p.Address, m.Address))
	err := f.release(p.Address, m.Address)
	require.ErrorIs(t, err, escrow.ErrMilestoneAlreadyReleased)

	assert.Equal(t, uint64(100), f.balance(t, f.freelancerATA))
	assert.Zero(t, f.vaultBalance(t, p.Address))
}

func TestReleaseBeforeAccept(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)

	err := f.release(p.Address, m.Address)
	require.ErrorIs(t, err, escrow.ErrProjectNotAccepted)
	n, ok := escrow.Number(err)
	assert.True(t, ok)
	assert.Equal(t, 6002, n)
	assert.Equal(t, uint64(100), f.vaultBalance(t, p.Address))
}

func TestNonOwnerIsRejected(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	stranger := newKey(t)
	strangerATA := f.openAccount(t, stranger)
	eventsBefore := len(f.store.Events())

	_, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             stranger,
		Project:            p.Address,
		MilestoneID:        2,
		Amount:             10,
		ClientTokenAccount: strangerATA,
	})
	require.ErrorIs(t, err, escrow.ErrUnauthorized)

	_, err = f.svc.ReleaseFunds(context.Background(), escrow.ReleaseFundsParams{
		Client:                 stranger,
		Project:                p.Address,
		Milestone:              m.Address,
		FreelancerTokenAccount: f.freelancerATA,
	})
	require.ErrorIs(t, err, escrow.ErrUnauthorized)

	list, err := f.svc.Milestones(context.Background(), p.Address)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.MilestonePending, list[0].Status)
	assert.Equal(t, uint64(100), f.vaultBalance(t, p.Address))
	assert.Len(t, f.store.Events(), eventsBefore)
}

func TestReleaseMilestoneOfAnotherProject(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	// 第二个客户端自己的项目和里程碑
	other := newKey(t)
	otherATA := f.openAccount(t, other)
	err := f.store.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return f.program.MintTo(ctx, tx, token.MintToParams{
			Mint:        f.mint,
			Destination: otherATA,
			Authority:   token.Signer(f.mintAuthority),
			Amount:      500,
		})
	})
	require.NoError(t, err)
	p2, err := f.svc.InitializeProject(context.Background(), escrow.InitializeProjectParams{
		Client: other, Mint: f.mint, ProjectID: "job-2",
	})
	require.NoError(t, err)
	foreign, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             other,
		Project:            p2.Address,
		MilestoneID:        1,
		Amount:             300,
		ClientTokenAccount: otherATA,
	})
	require.NoError(t, err)

	err = f.release(p.Address, foreign.Address)
	require.ErrorIs(t, err, escrow.ErrUnauthorized)
	assert.Equal(t, uint64(300), f.vaultBalance(t, p2.Address))
	assert.Equal(t, uint64(100), f.vaultBalance(t, p.Address))
	assert.Zero(t, f.balance(t, f.freelancerATA))
}

func TestReleaseToWrongFreelancer(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	intruder := newKey(t)
	intruderATA := f.openAccount(t, intruder)

	_, err := f.svc.ReleaseFunds(context.Background(), escrow.ReleaseFundsParams{
		Client:                 f.client,
		Project:                p.Address,
		Milestone:              m.Address,
		FreelancerTokenAccount: intruderATA,
	})
	require.ErrorIs(t, err, escrow.ErrInvalidFreelancer)
	assert.Equal(t, "InvalidFreelancer", escrow.Code(err))
	assert.Zero(t, f.balance(t, intruderATA))

	got, err := f.svc.Milestone(context.Background(), m.Address)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePending, got.Status)
}

func TestAddMilestoneRejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	_, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             0,
		ClientTokenAccount: f.clientATA,
	})
	require.ErrorIs(t, err, escrow.ErrZeroAmount)

	// 非所有者先被所有权守卫拒绝
	stranger := newKey(t)
	_, err = f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             stranger,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             0,
		ClientTokenAccount: f.openAccount(t, stranger),
	})
	require.ErrorIs(t, err, escrow.ErrUnauthorized)
	assert.Empty(t, mustMilestones(t, f, p.Address))
}

func mustMilestones(t *testing.T, f *fixture, project address.Address) []*model.Milestone {
	t.Helper()
	list, err := f.svc.Milestones(context.Background(), project)
	require.NoError(t, err)
	return list
}

func TestAddMilestoneDuplicateID(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	f.addMilestone(t, p.Address, 1, 100)

	_, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             20,
		ClientTokenAccount: f.clientATA,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Equal(t, uint64(900), f.balance(t, f.clientATA))
}

func TestAddMilestoneInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	_, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             5000,
		ClientTokenAccount: f.clientATA,
	})
	require.ErrorIs(t, err, escrow.ErrTransferFailed)
	require.ErrorIs(t, err, token.ErrInsufficientFunds)
	assert.Equal(t, "TransferFailed", escrow.Code(err))

	list, err := f.svc.Milestones(context.Background(), p.Address)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, uint64(1000), f.balance(t, f.clientATA))
}

func TestAddMilestoneReferenceMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)

	_, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             10,
		ClientTokenAccount: f.clientATA,
		Milestone:          newKey(t),
	})
	require.ErrorIs(t, err, escrow.ErrSeedsMismatch)

	expected, err := f.svc.MilestoneAddress(p.Address, 1)
	require.NoError(t, err)
	vault, err := f.svc.VaultAddress(p.Address)
	require.NoError(t, err)
	m, err := f.svc.AddMilestone(context.Background(), escrow.AddMilestoneParams{
		Client:             f.client,
		Project:            p.Address,
		MilestoneID:        1,
		Amount:             10,
		ClientTokenAccount: f.clientATA,
		Milestone:          expected,
		Vault:              vault,
	})
	require.NoError(t, err)
	assert.Equal(t, expected, m.Address)
}

func TestReleaseVaultAuthorityMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	_, err := f.svc.ReleaseFunds(context.Background(), escrow.ReleaseFundsParams{
		Client:                 f.client,
		Project:                p.Address,
		Milestone:              m.Address,
		FreelancerTokenAccount: f.freelancerATA,
		VaultAuthority:         f.client,
	})
	require.ErrorIs(t, err, escrow.ErrSeedsMismatch)
	assert.Equal(t, uint64(100), f.vaultBalance(t, p.Address))
}

// failingTransfers 在开关打开时让所有转账失败
type failingTransfers struct {
	*token.Program
	fail bool
}

func (f *failingTransfers) Transfer(ctx context.Context, tx store.Tx, params token.TransferParams) error {
	if f.fail {
		return errors.New("ledger unavailable")
	}
	return f.Program.Transfer(ctx, tx, params)
}

func TestReleaseTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	transfers := &failingTransfers{Program: f.program}
	f.svc = escrow.NewService(f.store, transfers, zap.NewNop())

	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	transfers.fail = true
	err := f.release(p.Address, m.Address)
	require.ErrorIs(t, err, escrow.ErrTransferFailed)

	got, err := f.svc.Milestone(context.Background(), m.Address)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePending, got.Status)
	assert.Equal(t, uint64(100), f.vaultBalance(t, p.Address))

	transfers.fail = false
	require.NoError(t, f.release(p.Address, m.Address))
	assert.Equal(t, uint64(100), f.balance(t, f.freelancerATA))
}

func TestConcurrentReleasePaysOnce(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.release(p.Address, m.Address)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, escrow.ErrMilestoneAlreadyReleased)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, uint64(100), f.balance(t, f.freelancerATA))
	assert.Zero(t, f.vaultBalance(t, p.Address))
}

type countingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *countingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

func TestOperationsRunUnderProjectLock(t *testing.T) {
	locker := &countingLocker{}
	f := newFixture(t, escrow.WithLocker(locker))
	p := f.initProject(t)
	f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)

	require.Len(t, locker.keys, 3)
	for _, key := range locker.keys {
		assert.Equal(t, escrow.LockKey(p.Address), key)
	}
}

func TestEventsFollowOperations(t *testing.T) {
	f := newFixture(t)
	p := f.initProject(t)
	m := f.addMilestone(t, p.Address, 1, 100)
	f.accept(t, p.Address)
	require.NoError(t, f.release(p.Address, m.Address))

	var keys []string
	for _, e := range f.store.Events() {
		keys = append(keys, e.RoutingKey)
	}
	assert.Equal(t, []string{
		mqcontracts.RoutingProjectInitialized,
		mqcontracts.RoutingMilestoneAdded,
		mqcontracts.RoutingProjectAccepted,
		mqcontracts.RoutingFundsReleased,
	}, keys)

	last := f.store.Events()[3].Payload.(mqcontracts.FundsReleasedPayload)
	assert.Equal(t, uint64(100), last.Amount)
	assert.Equal(t, f.freelancerATA.String(), last.Destination)
}

func mustProjectAddress(t *testing.T, f *fixture) address.Address {
	t.Helper()
	addr, err := f.svc.ProjectAddress(f.client)
	require.NoError(t, err)
	return addr
}
