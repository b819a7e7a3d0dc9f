package token

import (
	"fmt"

	"trustfund/internal/address"
)

type authorityKind uint8

const (
	kindSigner authorityKind = iota + 1
	kindDerived
)

// Authority is the capability presented to the token program to move funds out of an
// account. It is either a direct signer or a program-derived authority that is proved
// by re-deriving its address from public seeds and a stored bump. It never carries key
// material.
type Authority struct {
	kind    authorityKind
	signer  address.Address
	program address.Address
	seeds   [][]byte
}

// Signer authorizes with an identity whose signature was verified upstream.
func Signer(addr address.Address) Authority {
	return Authority{kind: kindSigner, signer: addr}
}

// Derived authorizes as the program address derived from seeds and bump under program.
func Derived(program address.Address, bump uint8, seeds ...[]byte) Authority {
	return Authority{
		kind:    kindDerived,
		program: program,
		seeds:   address.WithBump(bump, seeds...),
	}
}

// Key resolves the address the authority acts for.
func (a Authority) Key() (address.Address, error) {
	switch a.kind {
	case kindSigner:
		if a.signer.IsZero() {
			return address.Zero, ErrMissingAuthority
		}
		return a.signer, nil
	case kindDerived:
		key, err := address.CreateProgramAddress(a.seeds, a.program)
		if err != nil {
			return address.Zero, fmt.Errorf("%w: %w", ErrInvalidDerivedAuthority, err)
		}
		return key, nil
	default:
		return address.Zero, ErrMissingAuthority
	}
}

func (a Authority) IsDerived() bool {
	return a.kind == kindDerived
}

func (a Authority) String() string {
	key, err := a.Key()
	if err != nil {
		return "invalid-authority"
	}
	if a.kind == kindDerived {
		return "derived:" + key.String()
	}
	return "signer:" + key.String()
}
