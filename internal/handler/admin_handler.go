package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustfund/internal/address"
	"trustfund/internal/service/ledger"
	"trustfund/pkg/outbox"
)

type AdminHandler struct {
	ledger        *ledger.Service
	replayService *outbox.ReplayService
	logger        *zap.Logger
}

// NewAdminHandler replayService 为 nil 时（内存存储没有 outbox 表）重放接口返回 503
func NewAdminHandler(ledgerSvc *ledger.Service, replayService *outbox.ReplayService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:        ledgerSvc,
		replayService: replayService,
		logger:        logger,
	}
}

type createMintRequest struct {
	Decimals *uint8 `json:"decimals" binding:"required"`
}

// CreateMint POST /admin/mints
func (h *AdminHandler) CreateMint(c *gin.Context) {
	var req createMintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	mint, err := h.ledger.CreateMint(c.Request.Context(), *req.Decimals)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("Mint created by admin",
		zap.Stringer("mint", mint.Address),
		zap.String("admin", c.GetString(ContextSubjectKey)),
	)
	c.JSON(http.StatusCreated, gin.H{"mint": mint})
}

type mintToRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount uint64 `json:"amount"`
}

// MintTo POST /admin/mints/:mint/mint-to
func (h *AdminHandler) MintTo(c *gin.Context) {
	mintAddr, ok := pathAddress(c, "mint")
	if !ok {
		return
	}
	var req mintToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	owner, err := address.Parse(req.Owner)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	acct, err := h.ledger.MintTo(ctx, mintAddr, owner, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	mint, err := h.ledger.Mint(ctx, mintAddr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": NewAccountView(acct, mint.Decimals)})
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "OutboxDisabled", Message: "outbox requires the postgres store"})
		return
	}
	idStr := c.Query("id")
	if idStr == "" {
		badRequest(c, "missing id parameter")
		return
	}

	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		badRequest(c, "invalid id parameter")
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.logger.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "OutboxDisabled", Message: "outbox requires the postgres store"})
		return
	}
	limitStr := c.DefaultQuery("limit", "100")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 100
	}

	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}
