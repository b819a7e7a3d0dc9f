package model

import (
	"time"

	"trustfund/internal/address"
)

// Mint defines a fungible token and who may issue it.
type Mint struct {
	Address   address.Address `json:"address"`
	Authority address.Address `json:"authority"`
	Decimals  uint8           `json:"decimals"`
	Supply    uint64          `json:"supply"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

// TokenAccount holds a balance of one mint for one owner.
type TokenAccount struct {
	Address   address.Address `json:"address"`
	Mint      address.Address `json:"mint"`
	Owner     address.Address `json:"owner"`
	Amount    uint64          `json:"amount"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
