package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatom/atombot/internal/domain"
)

func TestTradeHandler_List(t *testing.T) {
	ledger := &fakeLedger{
		history: []domain.TradeAttempt{confirmedAttempt("tr-1", 15, 8)},
		next:    17,
	}
	h := NewTradeHandler(ledger, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, ledger.gotLimit, "default page size")
	assert.EqualValues(t, 0, ledger.gotCursor, "no cursor starts at the newest trade")

	var resp listTradesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "tr-1", resp.Trades[0].ID)
	assert.Equal(t, "confirmed", resp.Trades[0].State)
	assert.Equal(t, 15.0, resp.Trades[0].RealizedProfit)
	assert.Equal(t, "17", resp.NextCursor)
}

func TestTradeHandler_ListPaging(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewTradeHandler(ledger, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=5&cursor=17", nil))

	assert.Equal(t, 5, ledger.gotLimit)
	assert.EqualValues(t, 17, ledger.gotCursor)

	var resp listTradesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.NextCursor, "last page carries no cursor")
}

func TestTradeHandler_ListCapsLimit(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewTradeHandler(ledger, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999", nil))

	assert.Equal(t, 200, ledger.gotLimit)
}

func TestTradeHandler_ListFailureIs500(t *testing.T) {
	ledger := &fakeLedger{historyErr: errors.New("pq: connection refused")}
	h := NewTradeHandler(ledger, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to list trades"}`, rec.Body.String())
}

func TestTradeHandler_Get(t *testing.T) {
	attempt := confirmedAttempt("tr-1", 15, 8)
	ledger := &fakeLedger{attempts: map[string]domain.TradeAttempt{"tr-1": attempt}}
	h := NewTradeHandler(ledger, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/tr-1", nil)
	req.SetPathValue("id", "tr-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var view tradeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "tr-1", view.ID)
	assert.Equal(t, "op-tr-1", view.OpportunityID)
	assert.Equal(t, "0xabc", view.TxHash)
	assert.Equal(t, 8.0, view.GasCost)
	require.NotNil(t, view.TerminalAt)
}

func TestTradeHandler_GetUnknownIs404(t *testing.T) {
	h := NewTradeHandler(&fakeLedger{attempts: map[string]domain.TradeAttempt{}}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/tr-404", nil)
	req.SetPathValue("id", "tr-404")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"trade not found"}`, rec.Body.String())
}

func TestTradeHandler_GetStoreFailureIs500(t *testing.T) {
	h := NewTradeHandler(&fakeLedger{getErr: errors.New("pq: timeout")}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/tr-1", nil)
	req.SetPathValue("id", "tr-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTradeHandler_GetMissingIDIs400(t *testing.T) {
	h := NewTradeHandler(&fakeLedger{}, testLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/trades/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseLimit(t *testing.T) {
	req := func(q string) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/trades"+q, nil)
	}

	assert.Equal(t, 50, parseLimit(req(""), 50, 200))
	assert.Equal(t, 25, parseLimit(req("?limit=25"), 50, 200))
	assert.Equal(t, 200, parseLimit(req("?limit=500"), 50, 200))
	assert.Equal(t, 50, parseLimit(req("?limit=abc"), 50, 200))
	assert.Equal(t, 50, parseLimit(req("?limit=-3"), 50, 200))
}

func TestParseCursor(t *testing.T) {
	req := func(q string) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/trades"+q, nil)
	}

	assert.EqualValues(t, 0, parseCursor(req("")))
	assert.EqualValues(t, 17, parseCursor(req("?cursor=17")))
	assert.EqualValues(t, 0, parseCursor(req("?cursor=-4")))
	assert.EqualValues(t, 0, parseCursor(req("?cursor=abc")))
}
