package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatom/atombot/internal/domain"
)

func TestOpportunityHandler_List(t *testing.T) {
	detected := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeEngineStatus{ops: []domain.Opportunity{{
		ID:          "op-1",
		Pair:        "WETH/USDC",
		BuyVenue:    "uniswap_v2",
		SellVenue:   "sushiswap",
		BuyPrice:    101,
		SellPrice:   103,
		ProfitRatio: 0.0196,
		Confidence:  0.8,
		TradeSize:   1000,
		DetectedAt:  detected,
	}}}
	h := NewOpportunityHandler(source, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listOpportunitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Opportunities, 1)
	assert.Equal(t, "op-1", resp.Opportunities[0].ID)
	assert.Equal(t, "uniswap_v2", resp.Opportunities[0].BuyVenue)
	assert.Equal(t, "sushiswap", resp.Opportunities[0].SellVenue)
	assert.Equal(t, 0.0196, resp.Opportunities[0].ProfitRatio)
	assert.True(t, resp.Opportunities[0].DetectedAt.Equal(detected))
}

func TestOpportunityHandler_ListEmptyIsArrayNotNull(t *testing.T) {
	h := NewOpportunityHandler(&fakeEngineStatus{}, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"opportunities":[]}`, rec.Body.String())
}
