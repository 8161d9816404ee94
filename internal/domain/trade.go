package domain

import "time"

// TradeState is a node in the trade attempt state machine.
type TradeState string

const (
	TradeCreated   TradeState = "created"
	TradeSubmitted TradeState = "submitted"
	TradeConfirmed TradeState = "confirmed"
	TradeReverted  TradeState = "reverted"
	TradeFailed    TradeState = "failed"
	TradeAborted   TradeState = "aborted"
)

// validNext maps each state to the set of states it may transition into.
// Terminal states map to nothing.
var validNext = map[TradeState][]TradeState{
	TradeCreated:   {TradeSubmitted, TradeAborted},
	TradeSubmitted: {TradeConfirmed, TradeReverted, TradeFailed},
}

// ValidTransition reports whether from -> to is a legal edge of the state
// machine. Terminal states admit no further transitions.
func ValidTransition(from, to TradeState) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s TradeState) Terminal() bool {
	switch s {
	case TradeConfirmed, TradeReverted, TradeFailed, TradeAborted:
		return true
	}
	return false
}

// Success reports whether the state is the successful terminal outcome.
func (s TradeState) Success() bool {
	return s == TradeConfirmed
}

// FailCategory classifies a failed attempt for the dashboard. Raw internal
// errors never cross the API boundary; only these categories do.
type FailCategory string

const (
	FailTransientNetwork   FailCategory = "transient_network"
	FailStaleOpportunity   FailCategory = "stale_opportunity"
	FailInsufficientProfit FailCategory = "insufficient_profit"
	FailOnChainRevert      FailCategory = "onchain_revert"
	FailReconciliation     FailCategory = "reconciliation"
)

// TradeAttempt is one flash-loan execution of an Opportunity. The engine
// owns it exclusively until it reaches a terminal state; afterwards it is
// read-only history under the ledger.
type TradeAttempt struct {
	ID             string
	OpportunityID  string
	Pair           string
	BorrowAsset    string // token contract address
	BorrowAmount   float64
	State          TradeState
	TxHash         string       // empty until submitted
	SubmitTries    int          // submission tries consumed, retries included
	RealizedProfit float64      // set on Confirmed
	GasCost        float64      // set from the receipt once the transaction landed
	FailReason     FailCategory // set on Reverted/Failed/Aborted
	CreatedAt      time.Time
	TerminalAt     *time.Time
}

// Terminal reports whether the attempt has reached a terminal state.
func (t TradeAttempt) Terminal() bool {
	return t.State.Terminal()
}

// TradeTransition is one observed state change of an attempt, as delivered
// to the ledger. (TradeID, To) identifies a transition: recording the same
// pair twice is a no-op.
type TradeTransition struct {
	TradeID    string
	From       TradeState
	To         TradeState
	Attempt    TradeAttempt // snapshot at transition time
	OccurredAt time.Time
}
