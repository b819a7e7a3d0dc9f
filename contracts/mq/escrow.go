package mq

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys of escrow events on the "events" exchange.
const (
	RoutingProjectInitialized = "escrow.project.initialized"
	RoutingMilestoneAdded     = "escrow.milestone.added"
	RoutingProjectAccepted    = "escrow.project.accepted"
	RoutingFundsReleased      = "escrow.funds.released"
	RoutingTokensMinted       = "escrow.tokens.minted"
)

// Envelope 所有托管事件共用的头部
type Envelope struct {
	EventID    string    `json:"event_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEnvelope(traceID string, at time.Time) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		TraceID:    traceID,
		OccurredAt: at.UTC(),
	}
}

type ProjectInitializedPayload struct {
	Envelope
	Project        string `json:"project"`
	Owner          string `json:"owner"`
	ProjectID      string `json:"project_id"`
	Vault          string `json:"vault"`
	VaultAuthority string `json:"vault_authority"`
	Mint           string `json:"mint"`
}

type MilestoneAddedPayload struct {
	Envelope
	Project     string `json:"project"`
	Milestone   string `json:"milestone"`
	MilestoneID uint8  `json:"milestone_id"`
	Amount      uint64 `json:"amount"`
	Source      string `json:"source"`
}

type ProjectAcceptedPayload struct {
	Envelope
	Project  string `json:"project"`
	Assignee string `json:"assignee"`
}

type FundsReleasedPayload struct {
	Envelope
	Project     string `json:"project"`
	Milestone   string `json:"milestone"`
	MilestoneID uint8  `json:"milestone_id"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

// TokensMintedPayload 管理员发行测试代币
type TokensMintedPayload struct {
	Envelope
	Mint        string `json:"mint"`
	Destination string `json:"destination"`
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount"`
}
