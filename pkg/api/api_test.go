package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/blotter"
	"Cornucopia/pkg/catalog"
	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/market"
	"Cornucopia/pkg/model"
	"Cornucopia/pkg/repository"
)

type testEnv struct {
	handler http.Handler
	store   *market.Store
}

func newTestEnv(t *testing.T, ready func(context.Context) error) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewRepository(time.Second)
	locks := keylock.New(time.Second)
	cat := catalog.New(repo, locks, nil, zerolog.Nop())
	store := market.NewStore(repo, cat, locks, nil, zerolog.Nop())
	led := ledger.New(repo, store, nil, ledger.Config{Staleness: time.Minute}, zerolog.Nop())
	blot := blotter.New(repo, cat, led, nil, 2, zerolog.Nop())

	srv := NewServer("0", time.Second, time.Second, zerolog.Nop())
	srv.SetupRoutes(NewHandlers(cat, store, blot, led, ready))
	return &testEnv{handler: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func registerPufa(t *testing.T, e *testEnv) {
	t.Helper()
	w, _ := e.do(t, http.MethodPost, "/api/v1/securities", SecurityRequest{
		StockID: "600000.SH", Name: "浦发银行", Industry: "银行", ListingDate: "1999-11-10",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	e := newTestEnv(t, func(context.Context) error { return errors.New("db down") })

	w, _ := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "db down", resp["error"])
}

func TestSecurities(t *testing.T) {
	e := newTestEnv(t, nil)
	registerPufa(t, e)

	w, resp := e.do(t, http.MethodGet, "/api/v1/securities/600000.SH", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "浦发银行", resp["data"].(map[string]interface{})["name"])

	w, resp = e.do(t, http.MethodPost, "/api/v1/securities", SecurityRequest{
		StockID: "600000.SH", Name: "浦发银行", ListingDate: "1999-11-10",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(model.KindDuplicateKey), resp["kind"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/securities/000001.SZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/securities", map[string]string{"stockid": "000001.SZ"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradesAndHoldings(t *testing.T) {
	e := newTestEnv(t, nil)
	registerPufa(t, e)
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	for i, tr := range []struct{ qty, price string }{{"100", "10"}, {"100", "20"}, {"-150", "25"}} {
		w, _ := e.do(t, http.MethodPost, "/api/v1/trades", map[string]interface{}{
			"user_id": "u1", "stockid": "600000.SH", "quantity": tr.qty, "price": tr.price,
			"executed_at": base.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, resp := e.do(t, http.MethodPost, "/api/v1/trades", map[string]interface{}{
		"user_id": "u1", "stockid": "600000.SH", "quantity": "-51", "price": "25",
		"executed_at": base.Add(time.Hour),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(model.KindInsufficientPosition), resp["kind"])

	w, resp = e.do(t, http.MethodPost, "/api/v1/trades", map[string]interface{}{
		"user_id": "u1", "stockid": "999999.SH", "quantity": "1", "price": "1",
		"executed_at": base.Add(time.Hour),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(model.KindUnknownSecurity), resp["kind"])

	require.NoError(t, e.store.Record(context.Background(), &model.DailyQuote{
		StockID: "600000.SH", TradeDate: base, Open: d("20"), High: d("21"), Low: d("19"), Close: d("20"),
	}))

	w, resp = e.do(t, http.MethodGet, "/api/v1/users/u1/holdings/600000.SH", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "1000", data["market_value"])
	assert.Equal(t, "250", data["unrealized_pnl"])
	assert.Equal(t, "50", data["holding"].(map[string]interface{})["quantity"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/users/u1/holdings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 1)

	w, _ = e.do(t, http.MethodGet, "/api/v1/users/u2/holdings/600000.SH", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTradeHistoryPaging(t *testing.T) {
	e := newTestEnv(t, nil)
	registerPufa(t, e)
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		w, _ := e.do(t, http.MethodPost, "/api/v1/trades", map[string]interface{}{
			"user_id": "u1", "stockid": "600000.SH", "quantity": "1", "price": "10",
			"executed_at": base.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, resp := e.do(t, http.MethodGet, "/api/v1/users/u1/trades?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 2)
	next := resp["next"].(map[string]interface{})

	path := "/api/v1/users/u1/trades?limit=2&after_id=" + jsonNumber(next["id"]) + "&after_time=" + next["executed_at"].(string)
	w, resp = e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 1)
	assert.NotContains(t, resp, "next")

	w, _ = e.do(t, http.MethodGet, "/api/v1/users/u1/trades?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuotes(t *testing.T) {
	e := newTestEnv(t, nil)
	registerPufa(t, e)

	w, resp := e.do(t, http.MethodGet, "/api/v1/quotes/600000.SH/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(model.KindNoData), resp["kind"])

	require.NoError(t, e.store.Record(context.Background(), &model.DailyQuote{
		StockID: "600000.SH", TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open: d("7"), High: d("7.1"), Low: d("6.9"), Close: d("7.05"),
	}))

	w, resp = e.do(t, http.MethodGet, "/api/v1/quotes/600000.SH/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7.05", resp["data"].(map[string]interface{})["price"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/quotes/600000.SH/daily?from=2024-01-01&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 1)

	w, _ = e.do(t, http.MethodGet, "/api/v1/quotes/600000.SH/daily?from=2024-02-01&to=2024-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusLocked, statusOf(model.KindLedgerHalted))
	assert.Equal(t, http.StatusConflict, statusOf(model.KindConcurrencyConflict))
	assert.Equal(t, http.StatusInternalServerError, statusOf(model.KindInternal))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func jsonNumber(v interface{}) string {
	return strconv.FormatInt(int64(v.(float64)), 10)
}

func TestComponentStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("0", time.Second, time.Second, zerolog.Nop())
	srv.SetupRoutes(NewHandlers(nil, nil, nil, nil, nil).WithStatus(func() interface{} {
		return map[string]interface{}{"stats": map[string]int{"in_msgs": 5}}
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Stats map[string]int `json:"stats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Data.Stats["in_msgs"])
}
