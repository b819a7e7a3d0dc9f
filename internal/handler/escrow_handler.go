package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustfund/internal/escrow"
	"trustfund/internal/model"
	"trustfund/internal/service/ledger"
	"trustfund/internal/token"
	"trustfund/pkg/logger"
)

type EscrowHandler struct {
	escrow *escrow.Service
	ledger *ledger.Service
	logger *zap.Logger
}

func NewEscrowHandler(svc *escrow.Service, ledgerSvc *ledger.Service, logger *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrow: svc, ledger: ledgerSvc, logger: logger}
}

type initializeProjectRequest struct {
	ProjectID string `json:"project_id"`
	Mint      string `json:"mint" binding:"required"`
}

// InitializeProject POST /projects
func (h *EscrowHandler) InitializeProject(c *gin.Context) {
	client, ok := callerAddress(c)
	if !ok {
		return
	}
	var req initializeProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	mint, ok := optionalAddress(c, "mint", req.Mint)
	if !ok {
		return
	}

	project, err := h.escrow.InitializeProject(c.Request.Context(), escrow.InitializeProjectParams{
		Client:    client,
		Mint:      mint,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	vault, err := h.escrow.VaultAddress(project.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"project": project,
		"vault":   vault,
	})
}

// GetProject GET /projects/:project
func (h *EscrowHandler) GetProject(c *gin.Context) {
	addr, ok := pathAddress(c, "project")
	if !ok {
		return
	}
	project, err := h.escrow.Project(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// ListMilestones GET /projects/:project/milestones
func (h *EscrowHandler) ListMilestones(c *gin.Context) {
	addr, ok := pathAddress(c, "project")
	if !ok {
		return
	}
	milestones, err := h.escrow.Milestones(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	if milestones == nil {
		milestones = []*model.Milestone{}
	}
	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

// GetVault GET /projects/:project/vault
func (h *EscrowHandler) GetVault(c *gin.Context) {
	addr, ok := pathAddress(c, "project")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	vault, err := h.escrow.Vault(ctx, addr)
	if err != nil {
		writeError(c, err)
		return
	}
	mint, err := h.ledger.Mint(ctx, vault.Mint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vault": NewAccountView(vault, mint.Decimals)})
}

type addMilestoneRequest struct {
	MilestoneID        *uint8 `json:"milestone_id" binding:"required"`
	Amount             uint64 `json:"amount"`
	ClientTokenAccount string `json:"client_token_account"`
	Milestone          string `json:"milestone"`
	Vault              string `json:"vault"`
}

// AddMilestone POST /projects/:project/milestones
// client_token_account 缺省时使用调用者在该项目 mint 下的规范账户
func (h *EscrowHandler) AddMilestone(c *gin.Context) {
	client, ok := callerAddress(c)
	if !ok {
		return
	}
	project, ok := pathAddress(c, "project")
	if !ok {
		return
	}
	var req addMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	source, ok := optionalAddress(c, "client_token_account", req.ClientTokenAccount)
	if !ok {
		return
	}
	milestoneRef, ok := optionalAddress(c, "milestone", req.Milestone)
	if !ok {
		return
	}
	vaultRef, ok := optionalAddress(c, "vault", req.Vault)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if source.IsZero() {
		vault, err := h.escrow.Vault(ctx, project)
		if err != nil {
			writeError(c, err)
			return
		}
		if source, err = token.AccountAddress(client, vault.Mint); err != nil {
			writeError(c, err)
			return
		}
	}

	milestone, err := h.escrow.AddMilestone(ctx, escrow.AddMilestoneParams{
		Client:             client,
		Project:            project,
		MilestoneID:        *req.MilestoneID,
		Amount:             req.Amount,
		ClientTokenAccount: source,
		Milestone:          milestoneRef,
		Vault:              vaultRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestone": milestone})
}

// AcceptProject POST /projects/:project/accept
func (h *EscrowHandler) AcceptProject(c *gin.Context) {
	freelancer, ok := callerAddress(c)
	if !ok {
		return
	}
	project, ok := pathAddress(c, "project")
	if !ok {
		return
	}

	accepted, err := h.escrow.AcceptProject(c.Request.Context(), escrow.AcceptProjectParams{
		Freelancer: freelancer,
		Project:    project,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": accepted})
}

type releaseFundsRequest struct {
	FreelancerTokenAccount string `json:"freelancer_token_account"`
	Vault                  string `json:"vault"`
	VaultAuthority         string `json:"vault_authority"`
}

// ReleaseFunds POST /projects/:project/milestones/:id/release
// freelancer_token_account 缺省时使用已接单自由职业者的规范账户
func (h *EscrowHandler) ReleaseFunds(c *gin.Context) {
	client, ok := callerAddress(c)
	if !ok {
		return
	}
	projectAddr, ok := pathAddress(c, "project")
	if !ok {
		return
	}
	milestoneID, ok := pathMilestoneID(c)
	if !ok {
		return
	}
	var req releaseFundsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	destination, ok := optionalAddress(c, "freelancer_token_account", req.FreelancerTokenAccount)
	if !ok {
		return
	}
	vaultRef, ok := optionalAddress(c, "vault", req.Vault)
	if !ok {
		return
	}
	authorityRef, ok := optionalAddress(c, "vault_authority", req.VaultAuthority)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if destination.IsZero() {
		project, err := h.escrow.Project(ctx, projectAddr)
		if err != nil {
			writeError(c, err)
			return
		}
		// 与状态机相同的守卫顺序：先所有权，再接单状态
		if project.Owner != client {
			writeError(c, escrow.ErrUnauthorized)
			return
		}
		if project.Assignee == nil {
			writeError(c, escrow.ErrProjectNotAccepted)
			return
		}
		vault, err := h.escrow.Vault(ctx, projectAddr)
		if err != nil {
			writeError(c, err)
			return
		}
		if destination, err = token.AccountAddress(*project.Assignee, vault.Mint); err != nil {
			writeError(c, err)
			return
		}
	}

	milestoneAddr, err := h.escrow.MilestoneAddress(projectAddr, milestoneID)
	if err != nil {
		writeError(c, err)
		return
	}

	released, err := h.escrow.ReleaseFunds(ctx, escrow.ReleaseFundsParams{
		Client:                 client,
		Project:                projectAddr,
		Milestone:              milestoneAddr,
		FreelancerTokenAccount: destination,
		Vault:                  vaultRef,
		VaultAuthority:         authorityRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	logger.WithTrace(ctx, h.logger).Debug("ReleaseFunds: success",
		zap.Stringer("project", projectAddr),
		zap.Uint8("milestone_id", milestoneID),
	)
	c.JSON(http.StatusOK, gin.H{
		"milestone":   released,
		"destination": destination,
	})
}
