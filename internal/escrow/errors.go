package escrow

import (
	"errors"

	"trustfund/internal/store"
	"trustfund/internal/token"
)

// Error is a caller-visible guard failure. Number keeps the codes the on-chain
// program reported so clients of both can share error tables.
type Error struct {
	Code   string
	Number int
	Msg    string
}

func (e *Error) Error() string {
	return e.Msg
}

// Retryable is always false: the same request against the same state fails the same way.
func (e *Error) Retryable() bool { return false }

func (e *Error) ErrorKind() string {
	if e == ErrTransferFailed {
		return "transfer_failed"
	}
	return "escrow_rejected"
}

var (
	ErrProjectAlreadyAccepted   = &Error{Code: "ProjectAlreadyAccepted", Number: 6000, Msg: "project has already been accepted"}
	ErrUnauthorized             = &Error{Code: "Unauthorized", Number: 6001, Msg: "unauthorized access"}
	ErrProjectNotAccepted       = &Error{Code: "ProjectNotAccepted", Number: 6002, Msg: "project has not been accepted yet"}
	ErrMilestoneAlreadyReleased = &Error{Code: "MilestoneAlreadyReleased", Number: 6003, Msg: "milestone has already been released"}
	ErrInvalidFreelancer        = &Error{Code: "InvalidFreelancer", Number: 6004, Msg: "invalid freelancer specified"}
	ErrZeroAmount               = &Error{Code: "ZeroAmount", Number: 6005, Msg: "milestone amount must be positive"}
	ErrProjectIDTooLong         = &Error{Code: "ProjectIDTooLong", Number: 6006, Msg: "project id exceeds 32 bytes"}
	// ErrSeedsMismatch 调用方传入的引用与派生地址不一致
	ErrSeedsMismatch = &Error{Code: "ConstraintSeeds", Number: 2006, Msg: "a seeds constraint was violated"}

	// ErrTransferFailed wraps every failure reported by the transfer primitive.
	ErrTransferFailed = &Error{Code: "TransferFailed", Msg: "token transfer failed"}
)

// Code maps err to the stable name surfaced to callers; nil maps to "ok".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	// Transfer failures first: they wrap token and store errors.
	if errors.Is(err, ErrTransferFailed) {
		return ErrTransferFailed.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return "AccountAlreadyInUse"
	case errors.Is(err, store.ErrNotFound):
		return "AccountNotFound"
	case errors.Is(err, store.ErrConflict):
		return "Conflict"
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrMintAuthority),
		errors.Is(err, token.ErrOverflow):
		return "TokenError"
	default:
		return "Internal"
	}
}

// Number returns the numeric code of an escrow guard error, if any.
func Number(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Number != 0 {
		return e.Number, true
	}
	return 0, false
}
