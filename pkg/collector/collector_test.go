package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/model"
)

var tushareFixtures = map[string]string{
	"stock_basic": `{"code":0,"msg":"","data":{
		"fields":["ts_code","symbol","name","area","industry","exchange","list_date","delist_date"],
		"items":[["600000.SH","600000","浦发银行","上海","银行","SSE","19991110",null]]}}`,
	"daily": `{"code":0,"msg":"","data":{
		"fields":["ts_code","trade_date","open","high","low","close","pre_close","change","pct_chg","vol","amount"],
		"items":[["600000.SH","20240102",7.01,7.08,6.98,7.05,7.00,0.05,0.7143,312345.67,219876.5432],
		         ["000001.SZ","20240102",9.39,9.42,9.21,9.21,9.39,-0.18,-1.9169,1158366.45,1075742.252]]}}`,
	"daily_basic": `{"code":0,"msg":"","data":{
		"fields":["ts_code","trade_date","turnover_rate","pe","pe_ttm","pb","ps","ps_ttm","dv_ratio","total_mv","circ_mv"],
		"items":[["600000.SH","20240102",0.1063,5.0123,4.9,0.3651,null,null,4.2553,20692839.9,20692839.9]]}}`,
}

func newTushareServer(t *testing.T, fixtures map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TushareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		body, ok := fixtures[req.APIName]
		if !ok {
			body = `{"code":-2001,"msg":"unknown api"}`
		}
		if req.APIName == "stock_basic" {
			if params, _ := req.Params.(map[string]interface{}); params["list_status"] == "D" {
				body = `{"code":0,"data":{"fields":["ts_code","name","list_date"],"items":[]}}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAdapter(t *testing.T, fixtures map[string]string) *TushareAdapter {
	srv := newTushareServer(t, fixtures)
	return NewTushareAdapter(NewTushareClient("token", srv.URL, time.Second))
}

func TestTushareAdapter_FetchDailyKeepsExactDecimals(t *testing.T) {
	adapter := newAdapter(t, tushareFixtures)

	quotes, err := adapter.FetchDaily(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	q := quotes[0]
	assert.Equal(t, "600000.SH", q.StockID)
	assert.Equal(t, "2024-01-02", model.FormatDate(q.TradeDate))
	assert.Equal(t, "219876.5432", q.Amount.String())
	assert.Equal(t, "0.7143", q.ChangePct.String())
	assert.NoError(t, q.Validate())
	assert.True(t, quotes[1].Change.Equal(decimal.RequireFromString("-0.18")))
}

func TestTushareAdapter_FetchValuationTreatsNullAsZero(t *testing.T) {
	adapter := newAdapter(t, tushareFixtures)

	vals, err := adapter.FetchValuation(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.True(t, vals[0].PS.IsZero())
	assert.Equal(t, "5.0123", vals[0].PE.String())
	assert.NoError(t, vals[0].Validate())
}

func TestTushareAdapter_FetchSecurities(t *testing.T) {
	adapter := newAdapter(t, tushareFixtures)

	secs, err := adapter.FetchSecurities(context.Background())
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.Equal(t, "SSE", secs[0].Location)
	assert.Nil(t, secs[0].DelistingDate)
	assert.Equal(t, "1999-11-10", model.FormatDate(secs[0].ListingDate))
}

func TestTushareAdapter_APIError(t *testing.T) {
	adapter := newAdapter(t, map[string]string{})

	_, err := adapter.FetchDaily(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown api")
}

func TestTushareAdapter_MissingField(t *testing.T) {
	adapter := newAdapter(t, map[string]string{
		"daily": `{"code":0,"data":{"fields":["ts_code","trade_date"],"items":[["600000.SH","20240102"]]}}`,
	})

	_, err := adapter.FetchDaily(context.Background(), time.Now())
	assert.ErrorContains(t, err, "缺少必要字段")
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data interface{}) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func TestCollector_CollectDailyPublishesEnvelopes(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "quotes.daily", mock.AnythingOfType("*model.Envelope")).Return(nil).Twice()
	pub.On("Publish", "quotes.valuation", mock.AnythingOfType("*model.Envelope")).Return(nil).Once()

	c := New(newAdapter(t, tushareFixtures), pub, zerolog.Nop())
	stats, err := c.CollectDaily(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Stats{Published: 3}, stats)
	pub.AssertExpectations(t)

	env := pub.Calls[0].Arguments.Get(1).(*model.Envelope)
	rec, err := env.Open()
	require.NoError(t, err)
	q, ok := rec.(*model.DailyQuote)
	require.True(t, ok)
	assert.Equal(t, "7.05", q.Close.String())
}

func TestCollector_CollectDailyAllFailed(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))

	c := New(newAdapter(t, tushareFixtures), pub, zerolog.Nop())
	stats, err := c.CollectDaily(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
	assert.Equal(t, 3, stats.Failed)
}

type fakeRegistrar struct {
	known map[string]bool
}

func (f *fakeRegistrar) Register(_ context.Context, sec *model.Security) error {
	if f.known[sec.StockID] {
		return model.ErrDuplicateKey
	}
	f.known[sec.StockID] = true
	return nil
}

func TestCollector_SyncSecuritiesSkipsKnown(t *testing.T) {
	c := New(newAdapter(t, tushareFixtures), &mockPublisher{}, zerolog.Nop())
	reg := &fakeRegistrar{known: map[string]bool{}}

	n, err := c.SyncSecurities(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.SyncSecurities(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
