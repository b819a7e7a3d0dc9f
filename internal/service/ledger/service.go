// Package ledger manages mints and token accounts outside the escrow flow: creating
// test mints, issuing supply to signers and opening their token accounts.
package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "trustfund/contracts/mq"
	"trustfund/internal/address"
	"trustfund/internal/model"
	"trustfund/internal/store"
	"trustfund/internal/token"
	"trustfund/pkg/logger"
	"trustfund/pkg/metrics"
	"trustfund/pkg/otel"
	"trustfund/pkg/trace"
)

// MintAuthoritySeed 服务端发行代币使用的派生权限种子
const MintAuthoritySeed = "mint_authority"

var ErrZeroAmount = errors.New("amount must be greater than zero")

type Service struct {
	store         store.Store
	program       *token.Program
	programID     address.Address
	authority     address.Address
	authorityBump uint8
	logger        *zap.Logger
	now           func() time.Time
}

// NewService 派生本服务的发行权限地址；所有通过 CreateMint 创建的 mint 都以它为 authority
func NewService(st store.Store, program *token.Program, programID address.Address, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	authority, bump, err := address.FindProgramAddress([][]byte{[]byte(MintAuthoritySeed)}, programID)
	if err != nil {
		return nil, fmt.Errorf("derive mint authority: %w", err)
	}
	return &Service{
		store:         st,
		program:       program,
		programID:     programID,
		authority:     authority,
		authorityBump: bump,
		logger:        log,
		now:           time.Now,
	}, nil
}

func (s *Service) MintAuthority() address.Address {
	return s.authority
}

// CreateMint 在一个新生成的地址上创建 mint
func (s *Service) CreateMint(ctx context.Context, decimals uint8) (*model.Mint, error) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate mint address: %w", err)
	}
	addr, err := address.FromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartSpan(ctx, "ledger.create_mint")
	var mint *model.Mint
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		mint, err = s.program.InitializeMint(ctx, tx, addr, s.authority, decimals)
		return err
	})
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return mint, nil
}

// OpenAccount 返回 owner 在 mint 下的规范账户，不存在时创建
func (s *Service) OpenAccount(ctx context.Context, owner, mint address.Address) (*model.TokenAccount, error) {
	addr, err := token.AccountAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	var acct *model.TokenAccount
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err = s.openAccount(ctx, tx, addr, owner, mint)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) openAccount(ctx context.Context, tx store.Tx, addr, owner, mint address.Address) (*model.TokenAccount, error) {
	existing, err := tx.TokenAccount(ctx, addr)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.program.InitializeAccount(ctx, tx, token.InitializeAccountParams{
		Address: addr,
		Mint:    mint,
		Owner:   owner,
	})
}

// MintTo 向 owner 的规范账户发行 amount 个基本单位
func (s *Service) MintTo(ctx context.Context, mint, owner address.Address, amount uint64) (*model.TokenAccount, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	addr, err := token.AccountAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	log := logger.WithTrace(ctx, s.logger).With(
		zap.Stringer("mint", mint),
		zap.Stringer("owner", owner),
		zap.Uint64("amount", amount),
	)

	ctx, span := otel.StartSpan(ctx, "ledger.mint_to")
	var acct *model.TokenAccount
	err = s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.openAccount(ctx, tx, addr, owner, mint); err != nil {
			return err
		}
		if err := s.program.MintTo(ctx, tx, token.MintToParams{
			Mint:        mint,
			Destination: addr,
			Authority:   token.Derived(s.programID, s.authorityBump, []byte(MintAuthoritySeed)),
			Amount:      amount,
		}); err != nil {
			return err
		}
		var err error
		if acct, err = tx.TokenAccount(ctx, addr); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, store.Event{
			AggregateType: "mint",
			AggregateID:   mint.String(),
			RoutingKey:    mqcontracts.RoutingTokensMinted,
			Payload: mqcontracts.TokensMintedPayload{
				Envelope:    mqcontracts.NewEnvelope(trace.FromContext(ctx), s.now()),
				Mint:        mint.String(),
				Destination: addr.String(),
				Owner:       owner.String(),
				Amount:      amount,
			},
		})
	})
	otel.EndSpan(span, err)
	if err != nil {
		log.Warn("MintTo rejected", zap.Error(err))
		return nil, err
	}

	metrics.AddFundsMoved("mint", amount)
	log.Info("Tokens minted", zap.Stringer("account", addr))
	return acct, nil
}

func (s *Service) Account(ctx context.Context, addr address.Address) (*model.TokenAccount, error) {
	var acct *model.TokenAccount
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		acct, err = r.TokenAccount(ctx, addr)
		return err
	})
	return acct, err
}

func (s *Service) Mint(ctx context.Context, addr address.Address) (*model.Mint, error) {
	var mint *model.Mint
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		mint, err = r.Mint(ctx, addr)
		return err
	})
	return mint, err
}
