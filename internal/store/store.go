// Package store defines the Entity Store contract shared by the escrow state machine
// and the token program: create-once records addressed by derived addresses, version
// checked updates and all-or-nothing transactions.
package store

import (
	"context"

	"trustfund/internal/address"
	"trustfund/internal/model"
)

// Error 存储层错误，只有版本冲突值得重新读取后重试
type Error struct {
	msg       string
	kind      string
	retryable bool
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) Retryable() bool   { return e.retryable }
func (e *Error) ErrorKind() string { return e.kind }

var (
	// ErrAlreadyExists 目标地址已被占用（create-once）
	ErrAlreadyExists = &Error{msg: "account already in use", kind: "already_exists"}
	// ErrNotFound 地址上没有记录
	ErrNotFound = &Error{msg: "account not found", kind: "not_found"}
	// ErrConflict 乐观锁版本不匹配，说明有并发写入
	ErrConflict = &Error{msg: "concurrent modification detected", kind: "version_conflict", retryable: true}
)

// Event is an outbox entry written in the same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	RoutingKey    string
	Payload       any
}

// Reader exposes point lookups. Returned records are copies.
type Reader interface {
	Project(ctx context.Context, addr address.Address) (*model.Project, error)
	Milestone(ctx context.Context, addr address.Address) (*model.Milestone, error)
	Milestones(ctx context.Context, project address.Address) ([]*model.Milestone, error)
	Mint(ctx context.Context, addr address.Address) (*model.Mint, error)
	TokenAccount(ctx context.Context, addr address.Address) (*model.TokenAccount, error)
}

// Tx is the mutable view handed to Store.Atomic callbacks.
//
// Create* fail with ErrAlreadyExists when the address is taken. Update* compare the
// record's Version with the stored one, fail with ErrConflict on mismatch and bump
// Version on success.
type Tx interface {
	Reader

	CreateProject(ctx context.Context, p *model.Project) error
	UpdateProject(ctx context.Context, p *model.Project) error

	CreateMilestone(ctx context.Context, m *model.Milestone) error
	UpdateMilestone(ctx context.Context, m *model.Milestone) error

	CreateMint(ctx context.Context, m *model.Mint) error
	UpdateMint(ctx context.Context, m *model.Mint) error

	CreateTokenAccount(ctx context.Context, a *model.TokenAccount) error
	UpdateTokenAccount(ctx context.Context, a *model.TokenAccount) error

	AppendEvent(ctx context.Context, e Event) error
}

// Store runs units of work atomically: fn's writes become visible only if fn returns nil.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
}
