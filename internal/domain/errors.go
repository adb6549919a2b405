package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNotApproved        = errors.New("auction not approved")
	ErrNotStarted         = errors.New("auction has not started")
	ErrEnded              = errors.New("auction has ended")
	ErrBidTooLow          = errors.New("bid too low")
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = fmt.Errorf("%w: moderation decision already made", ErrConflict)
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)

// ErrorKind is the closed set of failure kinds callers branch on.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindNotApproved
	KindNotStarted
	KindEnded
	KindBidTooLow
	KindStorageUnavailable
	KindInvalidInput
	KindUnauthorized
	KindForbidden
	KindConflict
	KindRateLimited
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "INTERNAL",
	KindNotFound:           "NOT_FOUND",
	KindNotApproved:        "NOT_APPROVED",
	KindNotStarted:         "NOT_STARTED",
	KindEnded:              "ENDED",
	KindBidTooLow:          "BID_TOO_LOW",
	KindStorageUnavailable: "STORAGE_UNAVAILABLE",
	KindInvalidInput:       "INVALID_INPUT",
	KindUnauthorized:       "UNAUTHORIZED",
	KindForbidden:          "FORBIDDEN",
	KindConflict:           "CONFLICT",
	KindRateLimited:        "RATE_LIMITED",
}

// String returns the wire code for the kind, e.g. "BID_TOO_LOW".
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Transient reports whether a request failing with this kind may be retried
// unchanged.
func (k ErrorKind) Transient() bool {
	return k == KindStorageUnavailable || k == KindRateLimited
}

// kindOrder is checked top to bottom, so more specific sentinels must come
// before the ones they wrap.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrNotApproved, KindNotApproved},
	{ErrNotStarted, KindNotStarted},
	{ErrEnded, KindEnded},
	{ErrBidTooLow, KindBidTooLow},
	{ErrStorageUnavailable, KindStorageUnavailable},
	{ErrInvalidInput, KindInvalidInput},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
	{ErrConflict, KindConflict},
	{ErrRateLimited, KindRateLimited},
	{ErrLockHeld, KindConflict},
}

// KindOf classifies err by the sentinel it wraps. Errors that wrap none of
// the sentinels are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// BidTooLowError reports a rejected amount together with the value the next
// bid has to exceed.
type BidTooLowError struct {
	Amount  int64
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: bid must exceed %d (got %d)", e.Minimum, e.Amount)
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// Unavailable wraps a storage failure so it classifies as
// KindStorageUnavailable while keeping the cause in the chain.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, cause)
}
