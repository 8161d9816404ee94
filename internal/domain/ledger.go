package domain

// LedgerSummary is the running aggregate over terminal trade attempts.
// It is maintained incrementally by the ledger; reads never re-fold history.
//
// TotalProfit is net: realized profit of confirmed trades minus gas spent
// across all attempts (a reverted flash loan still burns gas).
type LedgerSummary struct {
	TotalTrades      int64   `json:"total_trades"`
	SuccessfulTrades int64   `json:"successful_trades"`
	TotalProfit      float64 `json:"total_profit"`
	TotalGasSpent    float64 `json:"total_gas_spent"`
}
