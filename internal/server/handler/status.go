package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// recentTradeCount is how many settled trades the status snapshot includes.
const recentTradeCount = 10

// LedgerReader exposes the settled-trade aggregates and history.
type LedgerReader interface {
	Summary() domain.LedgerSummary
	History(ctx context.Context, limit int, cursor int64) ([]domain.TradeAttempt, int64, error)
}

// EngineStatus reports opportunities currently being executed.
type EngineStatus interface {
	Active() []domain.Opportunity
}

// ScanStatus reports the scanner's run state and lifetime counters.
type ScanStatus interface {
	Paused() bool
	Found() int64
}

// RiskStatus reports in-flight execution slots.
type RiskStatus interface {
	Inflight() int
}

// StatusHandler serves the aggregate dashboard snapshot.
type StatusHandler struct {
	ledger    LedgerReader
	engine    EngineStatus
	scan      ScanStatus
	risk      RiskStatus
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler builds a StatusHandler over the given sources. engine,
// scan, and risk may be nil in a server-only process; the snapshot then
// reports the bot as stopped with nothing in flight.
func NewStatusHandler(ledger LedgerReader, engine EngineStatus, scan ScanStatus, risk RiskStatus, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		ledger:    ledger,
		engine:    engine,
		scan:      scan,
		risk:      risk,
		startedAt: startedAt,
		logger:    logger,
	}
}

type statusResponse struct {
	BotStatus          string            `json:"bot_status"` // running | stopped
	UptimeSeconds      int64             `json:"uptime_seconds"`
	OpportunitiesFound int64             `json:"opportunities_found"`
	TradesExecuted     int64             `json:"trades_executed"`
	SuccessfulTrades   int64             `json:"successful_trades"`
	SuccessRate        float64           `json:"success_rate"`
	ActiveTrades       int               `json:"active_trades"`
	TotalProfit        float64           `json:"total_profit"`
	TotalGasSpent      float64           `json:"total_gas_spent"`
	RecentTrades       []recentTrade     `json:"recent_trades"`
	Opportunities      []opportunityView `json:"opportunities"`
}

type recentTrade struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Profit    float64   `json:"profit"`
	Status    string    `json:"status"` // success | failed
	TxHash    string    `json:"tx_hash,omitempty"`
}

type opportunityView struct {
	ID         string  `json:"id"`
	Pair       string  `json:"pair"`
	Profit     float64 `json:"profit"`
	Confidence float64 `json:"confidence"`
}

// GetStatus responds with the full dashboard snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	summary := h.ledger.Summary()

	successRate := 0.0
	if summary.TotalTrades > 0 {
		successRate = float64(summary.SuccessfulTrades) / float64(summary.TotalTrades)
	}

	botStatus := "stopped"
	var found int64
	if h.scan != nil {
		found = h.scan.Found()
		if !h.scan.Paused() {
			botStatus = "running"
		}
	}

	recent, _, err := h.ledger.History(r.Context(), recentTradeCount, 0)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: trade history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade history")
		return
	}

	trades := make([]recentTrade, 0, len(recent))
	for _, a := range recent {
		trades = append(trades, toRecentTrade(a))
	}

	opps := []opportunityView{}
	if h.engine != nil {
		active := h.engine.Active()
		opps = make([]opportunityView, 0, len(active))
		for _, op := range active {
			opps = append(opps, opportunityView{
				ID:         op.ID,
				Pair:       op.Pair,
				Profit:     op.ProfitRatio * op.TradeSize,
				Confidence: op.Confidence,
			})
		}
	}

	inflight := 0
	if h.risk != nil {
		inflight = h.risk.Inflight()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		BotStatus:          botStatus,
		UptimeSeconds:      int64(time.Since(h.startedAt).Seconds()),
		OpportunitiesFound: found,
		TradesExecuted:     summary.TotalTrades,
		SuccessfulTrades:   summary.SuccessfulTrades,
		SuccessRate:        successRate,
		ActiveTrades:       inflight,
		TotalProfit:        summary.TotalProfit,
		TotalGasSpent:      summary.TotalGasSpent,
		RecentTrades:       trades,
		Opportunities:      opps,
	})
}

// toRecentTrade flattens an attempt into the dashboard's two-state view:
// anything not confirmed counts as failed.
func toRecentTrade(a domain.TradeAttempt) recentTrade {
	status := "failed"
	if a.State.Success() {
		status = "success"
	}
	ts := a.CreatedAt
	if a.TerminalAt != nil {
		ts = *a.TerminalAt
	}
	return recentTrade{
		ID:        a.ID,
		Timestamp: ts,
		Profit:    a.RealizedProfit - a.GasCost,
		Status:    status,
		TxHash:    a.TxHash,
	}
}
