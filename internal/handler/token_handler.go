package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustfund/internal/model"
	"trustfund/internal/service/ledger"
	"trustfund/internal/token"
)

// AccountView 代币账户及其按 mint 精度换算后的金额
type AccountView struct {
	*model.TokenAccount
	UIAmount string `json:"ui_amount"`
}

func NewAccountView(acct *model.TokenAccount, decimals uint8) AccountView {
	return AccountView{
		TokenAccount: acct,
		UIAmount:     token.UIAmount(acct.Amount, decimals).String(),
	}
}

type TokenHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

func NewTokenHandler(ledgerSvc *ledger.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{ledger: ledgerSvc, logger: logger}
}

type openAccountRequest struct {
	Mint string `json:"mint" binding:"required"`
}

// OpenAccount POST /token-accounts
func (h *TokenHandler) OpenAccount(c *gin.Context) {
	owner, ok := callerAddress(c)
	if !ok {
		return
	}
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	mintAddr, ok := optionalAddress(c, "mint", req.Mint)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	acct, err := h.ledger.OpenAccount(ctx, owner, mintAddr)
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

// GetAccount GET /token-accounts/:address
func (h *TokenHandler) GetAccount(c *gin.Context) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	acct, err := h.ledger.Account(ctx, addr)
	if err != nil {
		writeError(c, err)
		return
	}
	mint, err := h.ledger.Mint(ctx, acct.Mint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": NewAccountView(acct, mint.Decimals)})
}
