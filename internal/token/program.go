package token

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trustfund/internal/address"
	"trustfund/internal/model"
	"trustfund/internal/store"
)

// ProgramID owns every token account address derived by AccountAddress.
var ProgramID = address.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrOwnerMismatch           = errors.New("owner does not match authority")
	ErrMintMismatch            = errors.New("account mint mismatch")
	ErrMintAuthority           = errors.New("signer is not the mint authority")
	ErrOverflow                = errors.New("amount overflow")
	ErrMissingAuthority        = errors.New("missing authority")
	ErrInvalidDerivedAuthority = errors.New("derived authority cannot be proved")
)

// TransferParams moves Amount from From to To under Authority.
type TransferParams struct {
	From      address.Address
	To        address.Address
	Authority Authority
	Amount    uint64
}

type MintToParams struct {
	Mint        address.Address
	Destination address.Address
	Authority   Authority
	Amount      uint64
}

type InitializeAccountParams struct {
	Address address.Address
	Mint    address.Address
	Owner   address.Address
}

// Program is the custodial transfer primitive. It only ever touches token records
// through the transaction it is handed, so its effects commit or roll back with the
// caller's unit of work.
type Program struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewProgram(logger *zap.Logger) *Program {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Program{logger: logger, now: time.Now}
}

// AccountAddress derives the canonical token account of owner for mint.
func AccountAddress(owner, mint address.Address) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(address.TokenAccountSeeds(owner, mint), ProgramID)
	return addr, err
}

// InitializeMint creates a mint at addr with supply zero.
func (p *Program) InitializeMint(ctx context.Context, tx store.Tx, addr, authority address.Address, decimals uint8) (*model.Mint, error) {
	if authority.IsZero() {
		return nil, ErrMissingAuthority
	}
	now := p.now()
	m := &model.Mint{
		Address:   addr,
		Authority: authority,
		Decimals:  decimals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateMint(ctx, m); err != nil {
		return nil, fmt.Errorf("create mint %s: %w", addr, err)
	}
	p.logger.Info("Mint initialized",
		zap.Stringer("mint", addr),
		zap.Stringer("authority", authority),
		zap.Uint8("decimals", decimals),
	)
	return m, nil
}

// InitializeAccount opens an empty token account for an existing mint.
func (p *Program) InitializeAccount(ctx context.Context, tx store.Tx, params InitializeAccountParams) (*model.TokenAccount, error) {
	if _, err := tx.Mint(ctx, params.Mint); err != nil {
		return nil, fmt.Errorf("load mint %s: %w", params.Mint, err)
	}
	now := p.now()
	acct := &model.TokenAccount{
		Address:   params.Address,
		Mint:      params.Mint,
		Owner:     params.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateTokenAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create token account %s: %w", params.Address, err)
	}
	p.logger.Debug("Token account initialized",
		zap.Stringer("account", params.Address),
		zap.Stringer("owner", params.Owner),
		zap.Stringer("mint", params.Mint),
	)
	return acct, nil
}

// MintTo issues new supply into destination; only the mint authority may sign.
func (p *Program) MintTo(ctx context.Context, tx store.Tx, params MintToParams) error {
	mint, err := tx.Mint(ctx, params.Mint)
	if err != nil {
		return fmt.Errorf("load mint %s: %w", params.Mint, err)
	}
	key, err := params.Authority.Key()
	if err != nil {
		return err
	}
	if key != mint.Authority {
		return ErrMintAuthority
	}
	dst, err := tx.TokenAccount(ctx, params.Destination)
	if err != nil {
		return fmt.Errorf("load destination %s: %w", params.Destination, err)
	}
	if dst.Mint != mint.Address {
		return ErrMintMismatch
	}
	if mint.Supply > math.MaxUint64-params.Amount || dst.Amount > math.MaxUint64-params.Amount {
		return ErrOverflow
	}

	now := p.now()
	mint.Supply += params.Amount
	mint.UpdatedAt = now
	dst.Amount += params.Amount
	dst.UpdatedAt = now
	if err := tx.UpdateMint(ctx, mint); err != nil {
		return err
	}
	return tx.UpdateTokenAccount(ctx, dst)
}

// Transfer moves exactly params.Amount between two accounts of the same mint.
func (p *Program) Transfer(ctx context.Context, tx store.Tx, params TransferParams) error {
	key, err := params.Authority.Key()
	if err != nil {
		return err
	}
	from, err := tx.TokenAccount(ctx, params.From)
	if err != nil {
		return fmt.Errorf("load source %s: %w", params.From, err)
	}
	to, err := tx.TokenAccount(ctx, params.To)
	if err != nil {
		return fmt.Errorf("load destination %s: %w", params.To, err)
	}
	if from.Owner != key {
		return ErrOwnerMismatch
	}
	if from.Mint != to.Mint {
		return ErrMintMismatch
	}
	if from.Amount < params.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Amount, params.Amount)
	}
	if from.Address == to.Address {
		return nil
	}
	if to.Amount > math.MaxUint64-params.Amount {
		return ErrOverflow
	}

	now := p.now()
	from.Amount -= params.Amount
	from.UpdatedAt = now
	to.Amount += params.Amount
	to.UpdatedAt = now
	if err := tx.UpdateTokenAccount(ctx, from); err != nil {
		return err
	}
	if err := tx.UpdateTokenAccount(ctx, to); err != nil {
		return err
	}

	p.logger.Debug("Transfer applied",
		zap.Stringer("from", params.From),
		zap.Stringer("to", params.To),
		zap.String("authority", params.Authority.String()),
		zap.Uint64("amount", params.Amount),
	)
	return nil
}

// UIAmount renders base units with the mint's decimals, e.g. 100 with 6 decimals is 0.0001.
func UIAmount(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}
