package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// TradeHistory exposes settled attempts for paging and lookup.
type TradeHistory interface {
	History(ctx context.Context, limit int, cursor int64) ([]domain.TradeAttempt, int64, error)
	Get(ctx context.Context, id string) (domain.TradeAttempt, error)
}

// TradeHandler serves the trade history endpoints.
type TradeHandler struct {
	trades TradeHistory
	logger *slog.Logger
}

// NewTradeHandler builds a TradeHandler over the given history source.
func NewTradeHandler(trades TradeHistory, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// tradeView is the API shape of a trade attempt.
type tradeView struct {
	ID             string     `json:"id"`
	OpportunityID  string     `json:"opportunity_id"`
	Pair           string     `json:"pair"`
	BorrowAsset    string     `json:"borrow_asset"`
	BorrowAmount   float64    `json:"borrow_amount"`
	State          string     `json:"state"`
	TxHash         string     `json:"tx_hash,omitempty"`
	SubmitTries    int        `json:"submit_tries"`
	RealizedProfit float64    `json:"realized_profit"`
	GasCost        float64    `json:"gas_cost"`
	FailReason     string     `json:"fail_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	TerminalAt     *time.Time `json:"terminal_at,omitempty"`
}

func toTradeView(a domain.TradeAttempt) tradeView {
	return tradeView{
		ID:             a.ID,
		OpportunityID:  a.OpportunityID,
		Pair:           a.Pair,
		BorrowAsset:    a.BorrowAsset,
		BorrowAmount:   a.BorrowAmount,
		State:          string(a.State),
		TxHash:         a.TxHash,
		SubmitTries:    a.SubmitTries,
		RealizedProfit: a.RealizedProfit,
		GasCost:        a.GasCost,
		FailReason:     string(a.FailReason),
		CreatedAt:      a.CreatedAt,
		TerminalAt:     a.TerminalAt,
	}
}

type listTradesResponse struct {
	Trades     []tradeView `json:"trades"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// List returns settled attempts most recent first. The cursor comes from the
// previous page's next_cursor; an absent cursor starts at the newest trade.
// GET /api/trades?limit=50&cursor=...
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	cursor := parseCursor(r)

	attempts, next, err := h.trades.History(r.Context(), limit, cursor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	views := make([]tradeView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, toTradeView(a))
	}

	resp := listTradesResponse{Trades: views}
	if next > 0 {
		resp.NextCursor = strconv.FormatInt(next, 10)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single attempt by ID.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	attempt, err := h.trades.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}

	writeJSON(w, http.StatusOK, toTradeView(attempt))
}
