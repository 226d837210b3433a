// Package errors defines the reason-coded error set shared by the
// settlement engine. Every failure surfaced to a caller carries a stable
// short code so automated callers can branch on the failure cause.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	// KindValidation covers bad parameters; the caller can retry with
	// corrected input.
	KindValidation Kind = iota
	// KindState covers lifecycle violations; the caller must re-query state.
	KindState
	// KindAuthorization covers permission and allowance failures.
	KindAuthorization
	// KindFault covers invariant violations that should be unreachable
	// given correct validation. Never tolerated silently.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindFault:
		return "fault"
	}
	return "unknown"
}

// Error is a reason-coded settlement error. Two errors match under
// errors.Is when their codes are equal, so sentinel instances below can
// be used as targets for wrapped errors.
type Error struct {
	Code   string
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// Is matches on the reason code only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of the error carrying additional context.
func (e *Error) WithDetail(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from an error chain, or "" when the
// chain carries no settlement error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf extracts the error kind, defaulting to KindFault for unknown
// errors so unexpected failures are never downgraded.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFault
}

// Validation errors.
var (
	ErrInvalidDuration         = &Error{Code: "INVALID_DURATION", Kind: KindValidation}
	ErrInvalidPriceOrdering    = &Error{Code: "INVALID_PRICE_ORDERING", Kind: KindValidation}
	ErrExtensionPeriodTooLong  = &Error{Code: "EXTENSION_PERIOD_TOO_LONG", Kind: KindValidation}
	ErrFeeTooHigh              = &Error{Code: "FEE_TOO_HIGH", Kind: KindValidation}
	ErrAmountMismatch          = &Error{Code: "AMOUNT_MISMATCH", Kind: KindValidation}
	ErrZeroAmount              = &Error{Code: "ZERO_AMOUNT", Kind: KindValidation}
	ErrBasisPointsOverflow     = &Error{Code: "BASIS_POINTS_OVERFLOW", Kind: KindValidation}
	ErrUnsupportedAssetIface   = &Error{Code: "UNSUPPORTED_ASSET_INTERFACE", Kind: KindValidation}
	ErrAssetMismatch           = &Error{Code: "ASSET_MISMATCH", Kind: KindValidation}
	ErrOrderWindowClosed       = &Error{Code: "ORDER_WINDOW_CLOSED", Kind: KindValidation}
)

// State errors.
var (
	ErrAuctionNotFound   = &Error{Code: "AUCTION_NOT_FOUND", Kind: KindState}
	ErrNotStarted        = &Error{Code: "AUCTION_NOT_STARTED", Kind: KindState}
	ErrExpired           = &Error{Code: "AUCTION_EXPIRED", Kind: KindState}
	ErrBidTooLow         = &Error{Code: "BID_TOO_LOW", Kind: KindState}
	ErrBidBelowReserve   = &Error{Code: "BID_BELOW_RESERVE", Kind: KindState}
	ErrSecondBidRejected = &Error{Code: "SECOND_BID_REJECTED", Kind: KindState}
	ErrAlreadyStarted    = &Error{Code: "AUCTION_ALREADY_STARTED", Kind: KindState}
	ErrNotCompletable    = &Error{Code: "AUCTION_NOT_COMPLETABLE", Kind: KindState}
)

// Authorization errors.
var (
	ErrNotAuthorized         = &Error{Code: "NOT_AUTHORIZED", Kind: KindAuthorization}
	ErrClaimNotAllowed       = &Error{Code: "CLAIM_NOT_ALLOWED", Kind: KindAuthorization}
	ErrNotAuthorizedOperator = &Error{Code: "NOT_AUTHORIZED_OPERATOR", Kind: KindAuthorization}
	ErrAllowanceExceeded     = &Error{Code: "ALLOWANCE_EXCEEDED", Kind: KindAuthorization}
	ErrInvalidSignature      = &Error{Code: "INVALID_SIGNATURE", Kind: KindAuthorization}
)

// Invariant-violation faults.
var (
	ErrInsufficientFunds = &Error{Code: "INSUFFICIENT_FUNDS", Kind: KindFault}
	ErrValueNotConserved = &Error{Code: "VALUE_NOT_CONSERVED", Kind: KindFault}
)
