package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// ActiveSource reports opportunities that passed the risk gate and are not
// yet terminal.
type ActiveSource interface {
	Active() []domain.Opportunity
}

// OpportunityHandler serves the live opportunity feed.
type OpportunityHandler struct {
	source ActiveSource
	logger *slog.Logger
}

// NewOpportunityHandler builds an OpportunityHandler over the given source.
func NewOpportunityHandler(source ActiveSource, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{source: source, logger: logger}
}

type opportunityDetail struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	BuyVenue    string    `json:"buy_venue"`
	SellVenue   string    `json:"sell_venue"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	ProfitRatio float64   `json:"profit_ratio"`
	Confidence  float64   `json:"confidence"`
	TradeSize   float64   `json:"trade_size"`
	DetectedAt  time.Time `json:"detected_at"`
}

type listOpportunitiesResponse struct {
	Opportunities []opportunityDetail `json:"opportunities"`
}

// List returns the opportunities currently in execution, newest first.
// GET /api/opportunities
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.source.Active()

	views := make([]opportunityDetail, 0, len(active))
	for _, op := range active {
		views = append(views, opportunityDetail{
			ID:          op.ID,
			Pair:        op.Pair,
			BuyVenue:    op.BuyVenue,
			SellVenue:   op.SellVenue,
			BuyPrice:    op.BuyPrice,
			SellPrice:   op.SellPrice,
			ProfitRatio: op.ProfitRatio,
			Confidence:  op.Confidence,
			TradeSize:   op.TradeSize,
			DetectedAt:  op.DetectedAt,
		})
	}

	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: views})
}
