package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/catalog"
	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/market"
	"Cornucopia/pkg/model"
	"Cornucopia/pkg/repository"
)

const stockID = "600000.SH"

var now = time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(dd int) time.Time {
	return time.Date(2024, 1, dd, 0, 0, 0, 0, time.UTC)
}

func newStore(t *testing.T) (*market.Store, *repository.Repository, *catalog.Catalog, *audit.Memory) {
	t.Helper()
	repo := repository.NewRepository(time.Second)
	locks := keylock.New(time.Second)
	cat := catalog.New(repo, locks, nil, zerolog.Nop())
	require.NoError(t, cat.Register(context.Background(), &model.Security{
		StockID: stockID, Name: "浦发银行", ListingDate: time.Date(1999, 11, 10, 0, 0, 0, 0, time.UTC),
	}))
	sink := &audit.Memory{}
	store := market.NewStore(repo, cat, locks, sink, zerolog.Nop(), market.WithClock(func() time.Time { return now }))
	return store, repo, cat, sink
}

func daily(dd int, open, high, low, close string) *model.DailyQuote {
	return &model.DailyQuote{StockID: stockID, TradeDate: day(dd), Open: d(open), High: d(high), Low: d(low), Close: d(close)}
}

func TestStore_DailyUpsertIsIdempotent(t *testing.T) {
	store, repo, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9.5", "10.5")))
	require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9.5", "10.5")))
	require.NoError(t, store.Record(ctx, daily(2, "10", "11.2", "9.5", "11")))

	quotes, err := store.DailyRange(ctx, stockID, day(1), day(31))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, quotes[0].Close.Equal(d("11")), "同一交易日以最后一次写入为准")

	latest, err := repo.LatestDaily(ctx, stockID)
	require.NoError(t, err)
	assert.Equal(t, quotes[0].ID, latest.ID)
}

func TestStore_RejectsInvalidRecords(t *testing.T) {
	store, repo, _, sink := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  model.Record
		want error
	}{
		{"最低价高于最高价", daily(2, "10", "9", "11", "10"), model.ErrInvalidRange},
		{"收盘价越界", daily(2, "10", "11", "9", "12"), model.ErrInvalidRange},
		{"负成交量", &model.DailyQuote{StockID: stockID, TradeDate: day(2), Open: d("1"), High: d("1"), Low: d("1"), Close: d("1"), Volume: d("-1")}, model.ErrInvalidRange},
		{"未知证券", &model.DailyQuote{StockID: "999999.SH", TradeDate: day(2), Open: d("1"), High: d("1"), Low: d("1"), Close: d("1")}, model.ErrUnknownSecurity},
		{"缺少日期", &model.RealtimeQuote{StockID: stockID, Price: d("1")}, model.ErrInvalidDate},
		{"实时价格为零", &model.RealtimeQuote{StockID: stockID, CapturedAt: now, Price: decimal.Zero}, model.ErrInvalidRange},
		{"流通市值大于总市值", &model.ValuationSnapshot{StockID: stockID, AsOf: day(2), TotalMV: d("100"), CircMV: d("200")}, model.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.Record(ctx, tt.rec), tt.want)
		})
	}

	_, err := repo.LatestDaily(ctx, stockID)
	assert.ErrorIs(t, err, model.ErrNoData, "被拒绝的记录不能落库")
	_, err = repo.LatestDaily(ctx, "999999.SH")
	assert.ErrorIs(t, err, model.ErrNoData)
	assert.Equal(t, 1, sink.Count(model.AuditIngest, model.KindUnknownSecurity))
}

func TestStore_DerivesChangeFromPreviousClose(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, daily(2, "10", "10", "10", "10")))
	require.NoError(t, store.Record(ctx, daily(3, "10", "11", "10", "11")))

	quotes, err := store.DailyRange(ctx, stockID, day(3), day(3))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, quotes[0].Change.Equal(d("1")))
	assert.True(t, quotes[0].ChangePct.Equal(d("10")))

	// 数据源给出的涨跌幅保持不变
	provided := daily(4, "11", "12", "11", "12")
	provided.Change, provided.ChangePct = d("0.5"), d("4.5")
	require.NoError(t, store.Record(ctx, provided))
	quotes, err = store.DailyRange(ctx, stockID, day(4), day(4))
	require.NoError(t, err)
	assert.True(t, quotes[0].ChangePct.Equal(d("4.5")))
}

func TestStore_RealtimeDeduplicates(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	at := now.Add(-time.Minute)
	require.NoError(t, store.Record(ctx, &model.RealtimeQuote{StockID: stockID, CapturedAt: at, Price: d("10")}))
	require.NoError(t, store.Record(ctx, &model.RealtimeQuote{StockID: stockID, CapturedAt: at.Add(time.Nanosecond), Price: d("99")}))

	p, err := store.LatestPrice(ctx, stockID)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(d("10")), "截断到微秒后视为同一时间点")
	assert.Equal(t, model.PriceSourceRealtime, p.Source)
}

func TestStore_IntradayDeduplicates(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	bucket := time.Date(2024, 1, 3, 9, 31, 0, 0, time.UTC)
	tick := func(price string) *model.IntradayTick {
		return &model.IntradayTick{StockID: stockID, TradeDate: day(3), Bucket: bucket, Price: d(price)}
	}
	require.NoError(t, store.Record(ctx, tick("10")))
	require.NoError(t, store.Record(ctx, tick("11")))
	require.NoError(t, store.Record(ctx, &model.IntradayTick{StockID: stockID, TradeDate: day(3), Bucket: bucket.Add(time.Minute), Price: d("12")}))

	ticks, err := store.IntradayOf(ctx, stockID, day(3))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.True(t, ticks[0].Price.Equal(d("10")))
	assert.True(t, ticks[1].Price.Equal(d("12")))
}

func TestStore_IntradayBucketMustFallOnTradeDate(t *testing.T) {
	repo := repository.NewRepository(time.Second)
	locks := keylock.New(time.Second)
	cat := catalog.New(repo, locks, nil, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, cat.Register(ctx, &model.Security{
		StockID: stockID, Name: "浦发银行", ListingDate: time.Date(1999, 11, 10, 0, 0, 0, 0, time.UTC),
	}))
	cst := time.FixedZone("CST", 8*3600)
	store := market.NewStore(repo, cat, locks, nil, zerolog.Nop(), market.WithLocation(cst))

	// 北京时间 09:31, UTC 仍是 01:31
	open := time.Date(2024, 1, 3, 9, 31, 0, 0, cst)
	require.NoError(t, store.Record(ctx, &model.IntradayTick{StockID: stockID, TradeDate: day(3), Bucket: open, Price: d("10")}))

	// UTC 1月2日 17:00 在北京时间已是1月3日
	late := time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)
	err := store.Record(ctx, &model.IntradayTick{StockID: stockID, TradeDate: day(2), Bucket: late, Price: d("10")})
	assert.ErrorIs(t, err, model.ErrInvalidDate)

	err = store.Record(ctx, &model.IntradayTick{StockID: stockID, TradeDate: day(4), Bucket: open, Price: d("10")})
	assert.ErrorIs(t, err, model.ErrInvalidDate)

	ticks, err := store.IntradayOf(ctx, stockID, day(3))
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

func TestStore_LatestPrice(t *testing.T) {
	ctx := context.Background()

	t.Run("无数据", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		_, err := store.LatestPrice(ctx, stockID)
		assert.ErrorIs(t, err, model.ErrNoData)
	})

	t.Run("仅日线", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9", "10.5")))
		p, err := store.LatestPrice(ctx, stockID)
		require.NoError(t, err)
		assert.True(t, p.Price.Equal(d("10.5")))
		assert.Equal(t, model.PriceSourceDaily, p.Source)
	})

	t.Run("当日实时优先", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9", "10.5")))
		require.NoError(t, store.Record(ctx, &model.RealtimeQuote{StockID: stockID, CapturedAt: now.Add(-time.Hour), Price: d("10.8")}))
		p, err := store.LatestPrice(ctx, stockID)
		require.NoError(t, err)
		assert.True(t, p.Price.Equal(d("10.8")))
		assert.Equal(t, model.PriceSourceRealtime, p.Source)
	})

	t.Run("隔日实时让位于更新的日线", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		require.NoError(t, store.Record(ctx, &model.RealtimeQuote{StockID: stockID, CapturedAt: day(1).Add(10 * time.Hour), Price: d("9")}))
		require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9", "10.5")))
		p, err := store.LatestPrice(ctx, stockID)
		require.NoError(t, err)
		assert.True(t, p.Price.Equal(d("10.5")))
	})

	t.Run("陈旧实时仍可兜底", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		require.NoError(t, store.Record(ctx, &model.RealtimeQuote{StockID: stockID, CapturedAt: day(2).Add(14 * time.Hour), Price: d("9")}))
		p, err := store.LatestPrice(ctx, stockID)
		require.NoError(t, err)
		assert.True(t, p.Price.Equal(d("9")))
	})
}

func TestStore_RejectsAfterDelisting(t *testing.T) {
	store, _, cat, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, cat.Delist(ctx, stockID, day(2)))

	require.NoError(t, store.Record(ctx, daily(2, "10", "11", "9", "10")))
	assert.ErrorIs(t, store.Record(ctx, daily(3, "10", "11", "9", "10")), model.ErrInvalidDate)
}

func TestStore_Snapshots(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, &model.ValuationSnapshot{StockID: stockID, AsOf: day(2).Add(15 * time.Hour), PE: d("5.1"), TotalMV: d("100"), CircMV: d("90")}))
	require.NoError(t, store.Record(ctx, &model.ValuationSnapshot{StockID: stockID, AsOf: day(2), PE: d("5.2"), TotalMV: d("100"), CircMV: d("90")}))
	v, err := store.Valuation(ctx, stockID, day(2))
	require.NoError(t, err)
	assert.True(t, v.PE.Equal(d("5.2")))

	require.NoError(t, store.Record(ctx, &model.FinanceSnapshot{StockID: stockID, AsOf: day(2), NetProfit: d("1000")}))
	f, err := store.Finance(ctx, stockID, day(2))
	require.NoError(t, err)
	assert.True(t, f.NetProfit.Equal(d("1000")))

	_, err = store.Finance(ctx, stockID, day(3))
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestStore_RecordBatch(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	recs := []model.Record{
		daily(2, "10", "11", "9", "10"),
		daily(3, "10", "9", "11", "10"),
		&model.RealtimeQuote{StockID: stockID, CapturedAt: now, Price: d("10")},
		&model.DailyQuote{StockID: "999999.SH", TradeDate: day(2), Open: d("1"), High: d("1"), Low: d("1"), Close: d("1")},
	}
	errs := store.RecordBatch(ctx, recs, 2)
	require.Len(t, errs, len(recs))
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], model.ErrInvalidRange)
	assert.NoError(t, errs[2])
	assert.ErrorIs(t, errs[3], model.ErrUnknownSecurity)
}
