package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLength = errors.New("seed exceeds maximum length")
	ErrTooManySeeds  = errors.New("too many seeds")
	// ErrOnCurve 派生结果落在 ed25519 曲线上，可能存在对应私钥，必须换一个 bump
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
	// ErrNoViableBump 所有 bump 都无法得到曲线外地址
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
)

// Seed prefixes used by the escrow program.
var (
	SeedProject    = []byte("project")
	SeedVaultToken = []byte("vault_token")
	SeedVaultAuth  = []byte("vault_auth")
	SeedMilestone  = []byte("milestone")
	SeedToken      = []byte("token")
)

// CreateProgramAddress hashes seeds with the program id. The result is rejected when it
// is a valid curve point, so nobody can hold a signing key for it.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrTooManySeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Zero, fmt.Errorf("%w: %d bytes", ErrMaxSeedLength, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out) {
		return Zero, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Zero, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return Zero, 0, err
		}
		return addr, uint8(bump), nil
	}
	return Zero, 0, ErrNoViableBump
}

// IsOnCurve reports whether a decodes as an ed25519 point.
func IsOnCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// WithBump appends the bump seed, matching what FindProgramAddress hashed.
func WithBump(bump uint8, seeds ...[]byte) [][]byte {
	out := make([][]byte, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}

func ProjectSeeds(owner Address) [][]byte {
	return [][]byte{SeedProject, owner.Bytes()}
}

func VaultTokenSeeds(project Address) [][]byte {
	return [][]byte{SeedVaultToken, project.Bytes()}
}

func VaultAuthoritySeeds(project Address) [][]byte {
	return [][]byte{SeedVaultAuth, project.Bytes()}
}

func MilestoneSeeds(project Address, milestoneID uint8) [][]byte {
	return [][]byte{SeedMilestone, project.Bytes(), {milestoneID}}
}

func TokenAccountSeeds(owner, mint Address) [][]byte {
	return [][]byte{owner.Bytes(), SeedToken, mint.Bytes()}
}
