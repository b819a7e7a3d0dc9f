// Package escrow implements the project/milestone escrow state machine.
//
// Every operation validates the signer, the relationship between the referenced
// entities and their current state, then mutates state and issues at most one token
// transfer. All of it happens inside a single store transaction, so a failing guard or
// transfer leaves every record and balance untouched.
package escrow

import (
	"context"
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

// DefaultProgramID is the escrow program id every derived address is computed under.
var DefaultProgramID = address.MustParse("E6AD7h4owuhfsHLcMFQtoZR8aQVLTMDP2e8sM5nE61Sv")

// Transferrer is the custodial transfer primitive the state machine drives.
type Transferrer interface {
	InitializeAccount(ctx context.Context, tx store.Tx, params token.InitializeAccountParams) (*model.TokenAccount, error)
	Transfer(ctx context.Context, tx store.Tx, params token.TransferParams) error
}

// Locker serializes work on one key across processes. The store's version checks
// already reject lost updates; a Locker turns those conflicts into waiting.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Service struct {
	store     store.Store
	program   Transferrer
	programID address.Address
	locker    Locker
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithProgramID(id address.Address) Option {
	return func(s *Service) { s.programID = id }
}

func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, program Transferrer, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:     st,
		program:   program,
		programID: DefaultProgramID,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ProgramID() address.Address {
	return s.programID
}

type InitializeProjectParams struct {
	Client    address.Address
	Mint      address.Address
	ProjectID string
}

type AddMilestoneParams struct {
	Client             address.Address
	Project            address.Address
	MilestoneID        uint8
	Amount             uint64
	ClientTokenAccount address.Address
	// Optional references; zero means "derive". When set they must match derivation.
	Milestone address.Address
	Vault     address.Address
}

type AcceptProjectParams struct {
	Freelancer address.Address
	Project    address.Address
}

type ReleaseFundsParams struct {
	Client                 address.Address
	Project                address.Address
	Milestone              address.Address
	FreelancerTokenAccount address.Address
	// Optional references; zero means "derive".
	Vault          address.Address
	VaultAuthority address.Address
}

// InitializeProject creates the caller's project and its vault. The vault is owned by
// the derived vault authority, so releasing funds later needs no client key.
func (s *Service) InitializeProject(ctx context.Context, params InitializeProjectParams) (*model.Project, error) {
	if params.Client.IsZero() {
		return nil, ErrUnauthorized
	}
	if len(params.ProjectID) > model.MaxProjectIDLen {
		return nil, ErrProjectIDTooLong
	}
	projectAddr, bump, err := address.FindProgramAddress(address.ProjectSeeds(params.Client), s.programID)
	if err != nil {
		return nil, fmt.Errorf("derive project address: %w", err)
	}
	vault, vaultBump, err := address.FindProgramAddress(address.VaultTokenSeeds(projectAddr), s.programID)
	if err != nil {
		return nil, fmt.Errorf("derive vault address: %w", err)
	}
	vaultAuthority, authBump, err := address.FindProgramAddress(address.VaultAuthoritySeeds(projectAddr), s.programID)
	if err != nil {
		return nil, fmt.Errorf("derive vault authority: %w", err)
	}

	log := s.log(ctx).With(
		zap.Stringer("client", params.Client),
		zap.Stringer("project", projectAddr),
		zap.String("project_id", params.ProjectID),
	)

	var created *model.Project
	err = s.run(ctx, "initialize_project", projectAddr, func(ctx context.Context, tx store.Tx) error {
		now := s.now()
		p := &model.Project{
			Address:            projectAddr,
			Owner:              params.Client,
			Status:             model.ProjectCreated,
			ProjectID:          params.ProjectID,
			Bump:               bump,
			VaultBump:          vaultBump,
			VaultAuthorityBump: authBump,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateProject(ctx, p); err != nil {
			return fmt.Errorf("create project %s: %w", projectAddr, err)
		}
		if _, err := s.program.InitializeAccount(ctx, tx, token.InitializeAccountParams{
			Address: vault,
			Mint:    params.Mint,
			Owner:   vaultAuthority,
		}); err != nil {
			return fmt.Errorf("create vault: %w", err)
		}
		created = p
		return tx.AppendEvent(ctx, store.Event{
			AggregateType: "project",
			AggregateID:   projectAddr.String(),
			RoutingKey:    mqcontracts.RoutingProjectInitialized,
			Payload: mqcontracts.ProjectInitializedPayload{
				Envelope:       mqcontracts.NewEnvelope(trace.FromContext(ctx), now),
				Project:        projectAddr.String(),
				Owner:          params.Client.String(),
				ProjectID:      params.ProjectID,
				Vault:          vault.String(),
				VaultAuthority: vaultAuthority.String(),
				Mint:           params.Mint.String(),
			},
		})
	})
	if err != nil {
		log.Warn("InitializeProject rejected", zap.String("code", Code(err)), zap.Error(err))
		return nil, err
	}

	log.Info("Project initialized", zap.Stringer("vault", vault))
	return created, nil
}

// AddMilestone records a pending milestone and moves its amount from the client's
// token account into the vault. Both happen or neither does.
func (s *Service) AddMilestone(ctx context.Context, params AddMilestoneParams) (*model.Milestone, error) {
	log := s.log(ctx).With(
		zap.Stringer("client", params.Client),
		zap.Stringer("project", params.Project),
		zap.Uint8("milestone_id", params.MilestoneID),
		zap.Uint64("amount", params.Amount),
	)

	var created *model.Milestone
	err := s.run(ctx, "add_milestone", params.Project, func(ctx context.Context, tx store.Tx) error {
		project, err := tx.Project(ctx, params.Project)
		if err != nil {
			return fmt.Errorf("load project %s: %w", params.Project, err)
		}
		if project.Owner != params.Client {
			return ErrUnauthorized
		}
		if params.Amount == 0 {
			return ErrZeroAmount
		}

		milestoneAddr, milestoneBump, err := address.FindProgramAddress(
			address.MilestoneSeeds(project.Address, params.MilestoneID), s.programID)
		if err != nil {
			return fmt.Errorf("derive milestone address: %w", err)
		}
		if err := matchReference(params.Milestone, milestoneAddr); err != nil {
			return err
		}
		vault, err := s.vaultAddress(project)
		if err != nil {
			return err
		}
		if err := matchReference(params.Vault, vault); err != nil {
			return err
		}

		now := s.now()
		m := &model.Milestone{
			Address:     milestoneAddr,
			Project:     project.Address,
			MilestoneID: params.MilestoneID,
			Amount:      params.Amount,
			Status:      model.MilestonePending,
			Bump:        milestoneBump,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateMilestone(ctx, m); err != nil {
			return fmt.Errorf("create milestone %s: %w", milestoneAddr, err)
		}

		if err := s.program.Transfer(ctx, tx, token.TransferParams{
			From:      params.ClientTokenAccount,
			To:        vault,
			Authority: token.Signer(params.Client),
			Amount:    params.Amount,
		}); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}

		created = m
		return tx.AppendEvent(ctx, store.Event{
			AggregateType: "milestone",
			AggregateID:   milestoneAddr.String(),
			RoutingKey:    mqcontracts.RoutingMilestoneAdded,
			Payload: mqcontracts.MilestoneAddedPayload{
				Envelope:    mqcontracts.NewEnvelope(trace.FromContext(ctx), now),
				Project:     project.Address.String(),
				Milestone:   milestoneAddr.String(),
				MilestoneID: params.MilestoneID,
				Amount:      params.Amount,
				Source:      params.ClientTokenAccount.String(),
			},
		})
	})
	if err != nil {
		log.Warn("AddMilestone rejected", zap.String("code", Code(err)), zap.Error(err))
		return nil, err
	}

	metrics.AddFundsMoved("deposit", params.Amount)
	log.Info("Milestone added", zap.Stringer("milestone", created.Address))
	return created, nil
}

// AcceptProject assigns the signer as freelancer. Only a Created project can be accepted.
func (s *Service) AcceptProject(ctx context.Context, params AcceptProjectParams) (*model.Project, error) {
	if params.Freelancer.IsZero() {
		return nil, ErrUnauthorized
	}
	log := s.log(ctx).With(
		zap.Stringer("freelancer", params.Freelancer),
		zap.Stringer("project", params.Project),
	)

	var accepted *model.Project
	err := s.run(ctx, "accept_project", params.Project, func(ctx context.Context, tx store.Tx) error {
		project, err := tx.Project(ctx, params.Project)
		if err != nil {
			return fmt.Errorf("load project %s: %w", params.Project, err)
		}
		if project.Status != model.ProjectCreated {
			return ErrProjectAlreadyAccepted
		}

		freelancer := params.Freelancer
		project.Assignee = &freelancer
		project.Status = model.ProjectAccepted
		if err := tx.UpdateProject(ctx, project); err != nil {
			return fmt.Errorf("update project %s: %w", project.Address, err)
		}

		accepted = project
		return tx.AppendEvent(ctx, store.Event{
			AggregateType: "project",
			AggregateID:   project.Address.String(),
			RoutingKey:    mqcontracts.RoutingProjectAccepted,
			Payload: mqcontracts.ProjectAcceptedPayload{
				Envelope: mqcontracts.NewEnvelope(trace.FromContext(ctx), s.now()),
				Project:  project.Address.String(),
				Assignee: freelancer.String(),
			},
		})
	})
	if err != nil {
		log.Warn("AcceptProject rejected", zap.String("code", Code(err)), zap.Error(err))
		return nil, err
	}

	log.Info("Project accepted")
	return accepted, nil
}

// ReleaseFunds pays one pending milestone out of the vault to the assigned freelancer.
//
// The milestone is marked Released before the transfer is issued: the status write is
// the linearization point, so a retried or concurrent call fails the Pending guard
// instead of paying twice. A failed transfer rolls the status back with everything else.
func (s *Service) ReleaseFunds(ctx context.Context, params ReleaseFundsParams) (*model.Milestone, error) {
	log := s.log(ctx).With(
		zap.Stringer("client", params.Client),
		zap.Stringer("project", params.Project),
		zap.Stringer("milestone", params.Milestone),
		zap.Stringer("destination", params.FreelancerTokenAccount),
	)

	var released *model.Milestone
	err := s.run(ctx, "release_funds", params.Project, func(ctx context.Context, tx store.Tx) error {
		project, err := tx.Project(ctx, params.Project)
		if err != nil {
			return fmt.Errorf("load project %s: %w", params.Project, err)
		}
		milestone, err := tx.Milestone(ctx, params.Milestone)
		if err != nil {
			return fmt.Errorf("load milestone %s: %w", params.Milestone, err)
		}
		destination, err := tx.TokenAccount(ctx, params.FreelancerTokenAccount)
		if err != nil {
			return fmt.Errorf("load destination %s: %w", params.FreelancerTokenAccount, err)
		}

		if project.Owner != params.Client {
			return ErrUnauthorized
		}
		if milestone.Project != project.Address {
			return ErrUnauthorized
		}
		if project.Status != model.ProjectAccepted {
			return ErrProjectNotAccepted
		}
		if milestone.Status != model.MilestonePending {
			return ErrMilestoneAlreadyReleased
		}
		if project.Assignee == nil || *project.Assignee != destination.Owner {
			return ErrInvalidFreelancer
		}

		vault, err := s.vaultAddress(project)
		if err != nil {
			return err
		}
		if err := matchReference(params.Vault, vault); err != nil {
			return err
		}
		authority := token.Derived(s.programID, project.VaultAuthorityBump, address.VaultAuthoritySeeds(project.Address)...)
		authorityKey, err := authority.Key()
		if err != nil {
			return err
		}
		if err := matchReference(params.VaultAuthority, authorityKey); err != nil {
			return err
		}

		milestone.Status = model.MilestoneReleased
		if err := tx.UpdateMilestone(ctx, milestone); err != nil {
			return fmt.Errorf("update milestone %s: %w", milestone.Address, err)
		}

		if err := s.program.Transfer(ctx, tx, token.TransferParams{
			From:      vault,
			To:        destination.Address,
			Authority: authority,
			Amount:    milestone.Amount,
		}); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}

		released = milestone
		return tx.AppendEvent(ctx, store.Event{
			AggregateType: "milestone",
			AggregateID:   milestone.Address.String(),
			RoutingKey:    mqcontracts.RoutingFundsReleased,
			Payload: mqcontracts.FundsReleasedPayload{
				Envelope:    mqcontracts.NewEnvelope(trace.FromContext(ctx), s.now()),
				Project:     project.Address.String(),
				Milestone:   milestone.Address.String(),
				MilestoneID: milestone.MilestoneID,
				Amount:      milestone.Amount,
				Destination: destination.Address.String(),
			},
		})
	})
	if err != nil {
		log.Warn("ReleaseFunds rejected", zap.String("code", Code(err)), zap.Error(err))
		return nil, err
	}

	metrics.AddFundsMoved("release", released.Amount)
	log.Info("Funds released", zap.Uint64("amount", released.Amount))
	return released, nil
}

// maxConflictAttempts bounds re-runs of a transaction that lost a version race.
const maxConflictAttempts = 3

// run executes fn as one store transaction, under the project's lock when a Locker is set.
// A transaction that lost a version race is re-run so it observes the winner's writes.
func (s *Service) run(ctx context.Context, op string, project address.Address, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, "escrow."+op)
	defer func() {
		metrics.RecordEscrowOperation(op, Code(err), time.Since(start))
		otel.EndSpan(span, err)
	}()

	work := func(ctx context.Context) error {
		var err error
		for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
			err = s.store.Atomic(ctx, fn)
			if !errors.Is(err, store.ErrConflict) {
				return err
			}
			s.log(ctx).Debug("Version conflict, retrying", zap.String("operation", op), zap.Int("attempt", attempt))
		}
		return err
	}
	if s.locker == nil {
		return work(ctx)
	}
	return s.locker.WithLock(ctx, LockKey(project), work)
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, s.logger)
}

func (s *Service) vaultAddress(p *model.Project) (address.Address, error) {
	vault, err := address.CreateProgramAddress(address.WithBump(p.VaultBump, address.VaultTokenSeeds(p.Address)...), s.programID)
	if err != nil {
		return address.Zero, fmt.Errorf("derive vault address: %w", err)
	}
	return vault, nil
}

// LockKey is the per-project lock name.
func LockKey(project address.Address) string {
	return "lock:escrow:project:" + project.String()
}

func matchReference(supplied, derived address.Address) error {
	if supplied.IsZero() || supplied == derived {
		return nil
	}
	return ErrSeedsMismatch
}
