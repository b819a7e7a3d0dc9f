package escrow

import (
	"context"

	"trustfund/internal/address"
	"trustfund/internal/model"
	"trustfund/internal/store"
)

// ProjectAddress 计算 owner 名下项目的地址
func (s *Service) ProjectAddress(owner address.Address) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(address.ProjectSeeds(owner), s.programID)
	return addr, err
}

// MilestoneAddress 计算项目下编号为 id 的里程碑地址
func (s *Service) MilestoneAddress(project address.Address, id uint8) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(address.MilestoneSeeds(project, id), s.programID)
	return addr, err
}

func (s *Service) VaultAddress(project address.Address) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(address.VaultTokenSeeds(project), s.programID)
	return addr, err
}

func (s *Service) VaultAuthorityAddress(project address.Address) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(address.VaultAuthoritySeeds(project), s.programID)
	return addr, err
}

func (s *Service) Project(ctx context.Context, addr address.Address) (*model.Project, error) {
	var p *model.Project
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		p, err = r.Project(ctx, addr)
		return err
	})
	return p, err
}

func (s *Service) Milestone(ctx context.Context, addr address.Address) (*model.Milestone, error) {
	var m *model.Milestone
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		m, err = r.Milestone(ctx, addr)
		return err
	})
	return m, err
}

// Milestones lists the project's milestones ordered by id. Unknown projects are ErrNotFound.
func (s *Service) Milestones(ctx context.Context, project address.Address) ([]*model.Milestone, error) {
	var out []*model.Milestone
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		if _, err := r.Project(ctx, project); err != nil {
			return err
		}
		var err error
		out, err = r.Milestones(ctx, project)
		return err
	})
	return out, err
}

// Vault returns the project's custodial token account.
func (s *Service) Vault(ctx context.Context, project address.Address) (*model.TokenAccount, error) {
	var vault *model.TokenAccount
	err := s.store.View(ctx, func(ctx context.Context, r store.Reader) error {
		p, err := r.Project(ctx, project)
		if err != nil {
			return err
		}
		addr, err := s.vaultAddress(p)
		if err != nil {
			return err
		}
		vault, err = r.TokenAccount(ctx, addr)
		return err
	})
	return vault, err
}
