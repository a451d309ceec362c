package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/collector"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
	"Cornucopia/pkg/repository"
)

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())

	require.NoError(t, s.Add("refresh", "*/5 9-15 * * 1-5", func(context.Context) error { return nil }))
	assert.Error(t, s.Add("bad", "0 30 9 * * 1-5", func(context.Context) error { return nil }), "不接受秒级表达式")
	assert.Equal(t, 1, s.Entries())

	s.Start()
	s.Stop()
}

func TestScheduler_RunPassesCancellableContext(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	var seen context.Context
	s.run("job", func(ctx context.Context) error {
		seen = ctx
		return errors.New("boom")
	})
	require.NotNil(t, seen)
	assert.NoError(t, seen.Err())

	s.Stop()
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}

type noPrices struct{}

func (noPrices) LatestPrice(context.Context, string) (*model.LatestPrice, error) {
	return nil, model.ErrNoData
}

func TestVerifyLedger(t *testing.T) {
	repo := repository.NewRepository(time.Second)
	led := ledger.New(repo, noPrices{}, nil, ledger.Config{}, zerolog.Nop())
	pair := model.Pair{UserID: "u1", StockID: "600000.SH"}

	require.NoError(t, VerifyLedger(led)(context.Background()))

	err := repo.RunInTx(context.Background(), pair, func(tx ledger.Tx) error {
		op := &model.TradeOperation{UserID: "u1", StockID: "600000.SH", Quantity: decimal.NewFromInt(10),
			Price: decimal.NewFromInt(5), ExecutedAt: time.Now()}
		if err := tx.AppendOperation(context.Background(), op); err != nil {
			return err
		}
		h, err := tx.Holding(context.Background())
		if err != nil {
			return err
		}
		h.Quantity = decimal.NewFromInt(9)
		return tx.SaveHolding(context.Background(), h)
	})
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyLedger(led)(context.Background()), model.ErrLedgerDiverged)
	assert.NoError(t, RefreshMarketValues(led)(context.Background()))
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, interface{}) error { return nil }

type intradayDates struct {
	dates []time.Time
}

func (s *intradayDates) FetchIntraday(_ context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error) {
	s.dates = append(s.dates, date)
	return []*model.IntradayTick{{StockID: stockID, TradeDate: date, Bucket: date.Add(90 * time.Minute), Price: decimal.NewFromInt(10)}}, nil
}

func TestCollectIntraday_UsesExchangeDate(t *testing.T) {
	c := collector.New(nil, discardPublisher{}, zerolog.Nop())
	src := &intradayDates{}
	ids := func(context.Context) ([]string, error) { return []string{"600000.SH"}, nil }
	cst := time.FixedZone("CST", 8*3600)
	now := func() time.Time { return time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC) }

	require.NoError(t, CollectIntraday(c, src, ids, cst, now)(context.Background()))
	require.Len(t, src.dates, 1)
	assert.Equal(t, "2024-01-03", model.FormatDate(src.dates[0]), "北京时间已是次日")

	failing := func(context.Context) ([]string, error) { return nil, model.ErrNotFound }
	assert.ErrorIs(t, CollectIntraday(c, src, failing, cst, now)(context.Background()), model.ErrNotFound)
	assert.Len(t, src.dates, 1)
}
