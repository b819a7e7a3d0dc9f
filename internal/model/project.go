package model

import (
	"time"

	"trustfund/internal/address"
)

// MaxProjectIDLen bounds the caller-chosen label stored with the project.
const MaxProjectIDLen = 32

type ProjectStatus uint8

const (
	ProjectCreated ProjectStatus = iota
	ProjectAccepted
)

func (s ProjectStatus) String() string {
	switch s {
	case ProjectCreated:
		return "created"
	case ProjectAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

func (s ProjectStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneReleased
)

func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneReleased:
		return "released"
	default:
		return "unknown"
	}
}

func (s MilestoneStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Project ties one client to at most one freelancer and one vault.
type Project struct {
	Address            address.Address  `json:"address"`
	Owner              address.Address  `json:"owner"`
	Assignee           *address.Address `json:"assignee"` // nil until accepted
	Status             ProjectStatus    `json:"status"`
	ProjectID          string           `json:"project_id"`
	Bump               uint8            `json:"bump"`
	VaultBump          uint8            `json:"vault_bump"`
	VaultAuthorityBump uint8            `json:"vault_authority_bump"`
	Version            int64            `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the assignee pointer.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Assignee != nil {
		a := *p.Assignee
		cp.Assignee = &a
	}
	return &cp
}

// Milestone is a fixed-amount tranche of a project.
type Milestone struct {
	Address     address.Address `json:"address"`
	Project     address.Address `json:"project"`
	MilestoneID uint8           `json:"milestone_id"`
	Amount      uint64          `json:"amount"`
	Status      MilestoneStatus `json:"status"`
	Bump        uint8           `json:"bump"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
