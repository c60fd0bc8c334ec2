// Package domain holds the entities and error taxonomy shared across every
// liqbot component. Nothing in here talks to the network; it is pure data.
package domain

import "fmt"

// Kind identifies a class of error in the shared taxonomy below.
// Components compare Kind, never the error string, when deciding whether to
// recover locally or abort the enclosing task.
type Kind string

const (
	KindConfigError        Kind = "config_error"
	KindRpcNetwork         Kind = "rpc_network"
	KindRpcRateLimit       Kind = "rpc_rate_limit"
	KindRpcCallReverted    Kind = "rpc_call_reverted"
	KindRpcTimeout         Kind = "rpc_timeout"
	KindDecodeError        Kind = "decode_error"
	KindArithmeticOverflow Kind = "arithmetic_overflow"
	KindStaleFeed          Kind = "stale_feed"
	KindNoHealthyEndpoint  Kind = "no_healthy_endpoint"
	KindLockContention     Kind = "lock_contention"
	KindTimeoutError       Kind = "timeout_error"
	KindUnbuildable        Kind = "unbuildable"
	KindSubmissionFailed   Kind = "submission_failed"
	KindSuspiciousScaling  Kind = "suspicious_scaling"
	KindFatal              Kind = "fatal"
)

// UnbuildableReason narrows KindUnbuildable.
type UnbuildableReason string

const (
	ReasonThresholdMiss        UnbuildableReason = "threshold_miss"
	ReasonMissingPrice         UnbuildableReason = "missing_price"
	ReasonZeroDebt             UnbuildableReason = "zero_debt"
	ReasonNoCollateral         UnbuildableReason = "no_collateral"
	ReasonNoViablePlan         UnbuildableReason = "no_viable_plan"
	ReasonDebtBelowThreshold   UnbuildableReason = "debt_below_threshold"
	ReasonProfitBelowThreshold UnbuildableReason = "profit_below_threshold"
)

// SubmissionFailReason narrows KindSubmissionFailed.
type SubmissionFailReason string

const (
	SubmitReverted           SubmissionFailReason = "reverted"
	SubmitReplacedUnderpriced SubmissionFailReason = "replaced_underpriced"
	SubmitRaced              SubmissionFailReason = "raced"
)

// Error is the concrete error type used throughout liqbot. It carries a Kind
// so callers can branch with errors.As/errors.Is without string sniffing,
// plus an optional sub-reason and wrapped cause.
type Error struct {
	Kind   Kind
	Reason string
	Op     string
	Cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Reason, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(op string, kind Kind, reason string) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason}
}

// Wrap constructs an *Error carrying cause as its Unwrap target.
func Wrap(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// IsRecoverable reports whether the propagation policy in the design
// recovers this error locally instead of aborting the enclosing task:
// per-endpoint RPC errors, StaleFeed, and LockContention.
func IsRecoverable(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRpcNetwork, KindRpcRateLimit, KindRpcCallReverted, KindRpcTimeout,
		KindStaleFeed, KindLockContention:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
