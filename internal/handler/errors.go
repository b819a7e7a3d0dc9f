package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/service/auth"
	"trustfund/internal/service/ledger"
	"trustfund/internal/store"
	"trustfund/internal/token"
	"trustfund/pkg/outbox"
	"trustfund/pkg/util"
)

// ErrorResponse 所有失败请求的响应体
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Number    int    `json:"number,omitempty"`
	Retryable bool   `json:"retryable"`
}

// statusOf 把领域错误映射为 HTTP 状态码和稳定的错误码
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, address.ErrInvalidAddress):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, auth.ErrChallengeNotFound),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Unauthenticated"
	case errors.Is(err, ledger.ErrZeroAmount):
		return http.StatusBadRequest, "ZeroAmount"
	case errors.Is(err, outbox.ErrEventNotFound):
		return http.StatusNotFound, "EventNotFound"
	}

	code := escrow.Code(err)
	switch {
	case errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusUnprocessableEntity, code
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden, code
	case errors.Is(err, escrow.ErrProjectAlreadyAccepted),
		errors.Is(err, escrow.ErrProjectNotAccepted),
		errors.Is(err, escrow.ErrMilestoneAlreadyReleased):
		return http.StatusConflict, code
	case errors.Is(err, escrow.ErrZeroAmount), errors.Is(err, escrow.ErrProjectIDTooLong):
		return http.StatusBadRequest, code
	case errors.Is(err, escrow.ErrInvalidFreelancer), errors.Is(err, escrow.ErrSeedsMismatch):
		return http.StatusUnprocessableEntity, code
	case errors.Is(err, token.ErrMintAuthority):
		return http.StatusForbidden, code
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrOverflow):
		return http.StatusUnprocessableEntity, code
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, code
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrConflict):
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	retryable, _ := util.IsRetryableError(err)
	resp := ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Retryable: retryable,
	}
	if status == http.StatusInternalServerError {
		resp.Message = "internal error"
	}
	if n, ok := escrow.Number(err); ok {
		resp.Number = n
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BadRequest", Message: msg})
}
