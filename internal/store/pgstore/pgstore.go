// Package pgstore is the PostgreSQL Entity Store.
//
// Every record kind shares one address space (the addresses table), so creating any
// record claims its address first. Updates are compare-and-swap on the version column;
// under READ COMMITTED a concurrent writer blocks on the row lock and then sees zero
// affected rows, which surfaces as store.ErrConflict.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trustfund/internal/address"
	"trustfund/internal/model"
	"trustfund/internal/store"
	"trustfund/pkg/otel"
	"trustfund/pkg/outbox"
)

type Store struct {
	pool   *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		outbox: outbox.NewRepository(pool),
		logger: logger,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	ctx, span := otel.DBSpan(ctx, "atomic")
	defer func() { otel.EndDBSpan(span, err) }()

	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txn{tx: tx, outbox: s.outbox, now: time.Now().UTC()})
	})
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) (err error) {
	ctx, span := otel.DBSpan(ctx, "view")
	defer func() { otel.EndDBSpan(span, err) }()

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &txn{tx: tx, outbox: s.outbox, now: time.Now().UTC()})
	})
}

// Ping 用于 readiness 检查
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type txn struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	now    time.Time
}

func (t *txn) claim(ctx context.Context, addr address.Address, kind string) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO addresses (address, kind) VALUES ($1, $2) ON CONFLICT (address) DO NOTHING`,
		addr.String(), kind)
	if err != nil {
		return fmt.Errorf("claim %s address: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func checkUpdated(tag int64, err error, what string) error {
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if tag == 0 {
		return store.ErrConflict
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return v, nil
}

// ---- projects ----

const projectColumns = `address, owner, assignee, status, project_id, bump, vault_bump,
       vault_authority_bump, version, created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p        model.Project
		addr     string
		owner    string
		assignee *string
		status   int16
		bumps    [3]int16
	)
	err := row.Scan(&addr, &owner, &assignee, &status, &p.ProjectID,
		&bumps[0], &bumps[1], &bumps[2], &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Address, err = address.Parse(addr); err != nil {
		return nil, err
	}
	if p.Owner, err = address.Parse(owner); err != nil {
		return nil, err
	}
	if assignee != nil {
		a, err := address.Parse(*assignee)
		if err != nil {
			return nil, err
		}
		p.Assignee = &a
	}
	p.Status = model.ProjectStatus(status)
	p.Bump, p.VaultBump, p.VaultAuthorityBump = uint8(bumps[0]), uint8(bumps[1]), uint8(bumps[2])
	return &p, nil
}

func assigneeParam(p *model.Project) *string {
	if p.Assignee == nil {
		return nil
	}
	s := p.Assignee.String()
	return &s
}

func (t *txn) Project(ctx context.Context, addr address.Address) (*model.Project, error) {
	return scanProject(t.tx.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE address = $1`, addr.String()))
}

func (t *txn) CreateProject(ctx context.Context, p *model.Project) error {
	if err := t.claim(ctx, p.Address, "project"); err != nil {
		return err
	}
	p.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.Address.String(), p.Owner.String(), assigneeParam(p), int16(p.Status), p.ProjectID,
		int16(p.Bump), int16(p.VaultBump), int16(p.VaultAuthorityBump), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (t *txn) UpdateProject(ctx context.Context, p *model.Project) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE projects
		SET assignee = $1, status = $2, version = version + 1, updated_at = $3
		WHERE address = $4 AND version = $5`,
		assigneeParam(p), int16(p.Status), t.now, p.Address.String(), p.Version)
	if err := checkUpdated(tag.RowsAffected(), err, "project"); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = t.now
	return nil
}

// ---- milestones ----

const milestoneColumns = `address, project, milestone_id, amount::text, status, bump, version, created_at, updated_at`

func scanMilestone(row pgx.Row) (*model.Milestone, error) {
	var (
		m       model.Milestone
		addr    string
		project string
		id      int16
		amount  string
		status  int16
		bump    int16
	)
	if err := row.Scan(&addr, &project, &id, &amount, &status, &bump, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if m.Address, err = address.Parse(addr); err != nil {
		return nil, err
	}
	if m.Project, err = address.Parse(project); err != nil {
		return nil, err
	}
	if m.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	m.MilestoneID = uint8(id)
	m.Status = model.MilestoneStatus(status)
	m.Bump = uint8(bump)
	return &m, nil
}

func (t *txn) Milestone(ctx context.Context, addr address.Address) (*model.Milestone, error) {
	return scanMilestone(t.tx.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE address = $1`, addr.String()))
}

func (t *txn) Milestones(ctx context.Context, project address.Address) ([]*model.Milestone, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE project = $1 ORDER BY milestone_id`, project.String())
	if err != nil {
		return nil, fmt.Errorf("query milestones: %w", err)
	}
	defer rows.Close()

	var out []*model.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txn) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	if err := t.claim(ctx, m.Address, "milestone"); err != nil {
		return err
	}
	m.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO milestones (address, project, milestone_id, amount, status, bump, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		m.Address.String(), m.Project.String(), int16(m.MilestoneID), formatAmount(m.Amount),
		int16(m.Status), int16(m.Bump), m.Version, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

func (t *txn) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE milestones
		SET status = $1, version = version + 1, updated_at = $2
		WHERE address = $3 AND version = $4`,
		int16(m.Status), t.now, m.Address.String(), m.Version)
	if err := checkUpdated(tag.RowsAffected(), err, "milestone"); err != nil {
		return err
	}
	m.Version++
	m.UpdatedAt = t.now
	return nil
}

// ---- mints ----

const mintColumns = `address, authority, decimals, supply::text, version, created_at, updated_at`

func scanMint(row pgx.Row) (*model.Mint, error) {
	var (
		m         model.Mint
		addr      string
		authority string
		decimals  int16
		supply    string
	)
	if err := row.Scan(&addr, &authority, &decimals, &supply, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if m.Address, err = address.Parse(addr); err != nil {
		return nil, err
	}
	if m.Authority, err = address.Parse(authority); err != nil {
		return nil, err
	}
	if m.Supply, err = parseAmount(supply); err != nil {
		return nil, err
	}
	m.Decimals = uint8(decimals)
	return &m, nil
}

func (t *txn) Mint(ctx context.Context, addr address.Address) (*model.Mint, error) {
	return scanMint(t.tx.QueryRow(ctx, `SELECT `+mintColumns+` FROM mints WHERE address = $1`, addr.String()))
}

func (t *txn) CreateMint(ctx context.Context, m *model.Mint) error {
	if err := t.claim(ctx, m.Address, "mint"); err != nil {
		return err
	}
	m.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO mints (address, authority, decimals, supply, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		m.Address.String(), m.Authority.String(), int16(m.Decimals), formatAmount(m.Supply),
		m.Version, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mint: %w", err)
	}
	return nil
}

func (t *txn) UpdateMint(ctx context.Context, m *model.Mint) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE mints
		SET supply = $1::numeric, version = version + 1, updated_at = $2
		WHERE address = $3 AND version = $4`,
		formatAmount(m.Supply), t.now, m.Address.String(), m.Version)
	if err := checkUpdated(tag.RowsAffected(), err, "mint"); err != nil {
		return err
	}
	m.Version++
	m.UpdatedAt = t.now
	return nil
}

// ---- token accounts ----

const tokenAccountColumns = `address, mint, owner, amount::text, version, created_at, updated_at`

func scanTokenAccount(row pgx.Row) (*model.TokenAccount, error) {
	var (
		a      model.TokenAccount
		addr   string
		mint   string
		owner  string
		amount string
	)
	if err := row.Scan(&addr, &mint, &owner, &amount, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if a.Address, err = address.Parse(addr); err != nil {
		return nil, err
	}
	if a.Mint, err = address.Parse(mint); err != nil {
		return nil, err
	}
	if a.Owner, err = address.Parse(owner); err != nil {
		return nil, err
	}
	if a.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *txn) TokenAccount(ctx context.Context, addr address.Address) (*model.TokenAccount, error) {
	return scanTokenAccount(t.tx.QueryRow(ctx,
		`SELECT `+tokenAccountColumns+` FROM token_accounts WHERE address = $1`, addr.String()))
}

func (t *txn) CreateTokenAccount(ctx context.Context, a *model.TokenAccount) error {
	if err := t.claim(ctx, a.Address, "token_account"); err != nil {
		return err
	}
	a.Version = 1
	_, err := t.tx.Exec(ctx, `
		INSERT INTO token_accounts (address, mint, owner, amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		a.Address.String(), a.Mint.String(), a.Owner.String(), formatAmount(a.Amount),
		a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert token account: %w", err)
	}
	return nil
}

func (t *txn) UpdateTokenAccount(ctx context.Context, a *model.TokenAccount) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE token_accounts
		SET amount = $1::numeric, version = version + 1, updated_at = $2
		WHERE address = $3 AND version = $4`,
		formatAmount(a.Amount), t.now, a.Address.String(), a.Version)
	if err := checkUpdated(tag.RowsAffected(), err, "token account"); err != nil {
		return err
	}
	a.Version++
	a.UpdatedAt = t.now
	return nil
}

// ---- outbox ----

func (t *txn) AppendEvent(ctx context.Context, e store.Event) error {
	if err := outbox.InsertEventInTx(ctx, t.tx, t.outbox, e.AggregateType, e.AggregateID, e.RoutingKey, e.Payload); err != nil {
		return fmt.Errorf("append %s event: %w", e.RoutingKey, err)
	}
	return nil
}
