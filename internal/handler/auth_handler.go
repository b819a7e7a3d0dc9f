package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"trustfund/internal/address"
	"trustfund/internal/service/auth"
)

type AuthHandler struct {
	auth   *auth.Service
	logger *zap.Logger
}

func NewAuthHandler(authSvc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, logger: logger}
}

type challengeRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

// Challenge POST /auth/challenge
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	signer, err := address.Parse(req.PublicKey)
	if err != nil {
		writeError(c, err)
		return
	}

	nonce, err := h.auth.Challenge(c.Request.Context(), signer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nonce":   nonce,
		"message": string(auth.ChallengeMessage(nonce)),
	})
}

type loginRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	// Signature 对 challenge message 的 ed25519 签名，base58 编码
	Signature string `json:"signature" binding:"required"`
}

// Login POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	signer, err := address.Parse(req.PublicKey)
	if err != nil {
		writeError(c, err)
		return
	}
	sig, err := base58.Decode(req.Signature)
	if err != nil {
		badRequest(c, "signature must be base58")
		return
	}

	token, err := h.auth.Login(c.Request.Context(), signer, sig)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin POST /admin/login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, err := h.auth.AdminLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
