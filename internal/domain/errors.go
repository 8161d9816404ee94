package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
	ErrVenueDown         = errors.New("venue unreachable")
	ErrInvalidTransition = errors.New("invalid trade state transition")

	// Execution taxonomy. Everything the engine can hit boils down to one
	// of these; anything else wrapping them keeps errors.Is working.

	// ErrTransientNetwork marks a submission failure worth retrying with
	// bounded backoff.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrStaleOpportunity means the quotes moved before execution; the
	// opportunity must be rescanned, never retried.
	ErrStaleOpportunity = errors.New("opportunity stale")
	// ErrInsufficientProfit means expected profit no longer covers costs;
	// abort before any capital is borrowed.
	ErrInsufficientProfit = errors.New("insufficient profit")
	// ErrOnChainRevert means the transaction executed and reverted. The
	// price window is gone; a fresh scan must produce a new opportunity.
	ErrOnChainRevert = errors.New("onchain execution reverted")
	// ErrReconciliation is raised at restart when an in-flight trade's
	// chain outcome cannot be determined. It is surfaced as a warning and
	// never silently dropped.
	ErrReconciliation = errors.New("reconciliation unresolved")
)

// Classify maps an execution error to its dashboard-facing fail category.
// Unrecognized errors classify as transient so they stay retryable rather
// than poisoning the breaker with a bogus terminal reason.
func Classify(err error) FailCategory {
	switch {
	case errors.Is(err, ErrStaleOpportunity):
		return FailStaleOpportunity
	case errors.Is(err, ErrInsufficientProfit):
		return FailInsufficientProfit
	case errors.Is(err, ErrOnChainRevert):
		return FailOnChainRevert
	case errors.Is(err, ErrReconciliation):
		return FailReconciliation
	default:
		return FailTransientNetwork
	}
}
