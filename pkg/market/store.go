// Package market 行情时间序列存储: 日线/估值/财务按日覆盖写, 实时/分时按时间点追加去重.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/model"
)

// Store 行情存储服务
type Store struct {
	repo    Repository
	catalog Catalog
	locks   *keylock.Locker
	audit   audit.Sink
	loc     *time.Location
	now     func() time.Time
	log     zerolog.Logger
}

// Option 可选配置
type Option func(*Store)

// WithLocation 设置交易日所在时区
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithClock 设置时钟, 用于测试
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建行情存储服务
func NewStore(repo Repository, catalog Catalog, locks *keylock.Locker, sink audit.Sink, log zerolog.Logger, opts ...Option) *Store {
	if sink == nil {
		sink = audit.Nop{}
	}
	s := &Store{
		repo:    repo,
		catalog: catalog,
		locks:   locks,
		audit:   sink,
		loc:     time.UTC,
		now:     time.Now,
		log:     log.With().Str("component", "market").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record 写入一条行情或快照记录
func (s *Store) Record(ctx context.Context, rec model.Record) (err error) {
	normalize(rec)
	key := rec.Key()
	defer func() {
		s.audit.Emit(ctx, model.NewAuditEvent(model.AuditIngest, key.String(), "", err))
	}()

	if err := rec.Validate(); err != nil {
		return err
	}
	if tick, ok := rec.(*model.IntradayTick); ok {
		if err := tick.CheckTradeDate(s.loc); err != nil {
			return err
		}
	}

	sec, err := s.catalog.Require(ctx, key.StockID)
	if err != nil {
		return err
	}
	if sec.DelistingDate != nil && model.DateIn(key.At, s.loc).After(*sec.DelistingDate) {
		return fmt.Errorf("%s 晚于退市日期 %s: %w", key, model.FormatDate(*sec.DelistingDate), model.ErrInvalidDate)
	}

	release, err := s.locks.Acquire(ctx, key.String())
	if err != nil {
		return err
	}
	defer release()

	switch r := rec.(type) {
	case *model.DailyQuote:
		err = s.recordDaily(ctx, r)
	case *model.ValuationSnapshot:
		err = s.repo.UpsertValuation(ctx, r)
	case *model.FinanceSnapshot:
		err = s.repo.UpsertFinance(ctx, r)
	case *model.RealtimeQuote:
		err = s.appended(key, func() (bool, error) { return s.repo.AppendRealtime(ctx, r) })
	case *model.IntradayTick:
		err = s.appended(key, func() (bool, error) { return s.repo.AppendIntraday(ctx, r) })
	default:
		err = fmt.Errorf("不支持的记录类型 %T", rec)
	}
	if err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}

func (s *Store) recordDaily(ctx context.Context, q *model.DailyQuote) error {
	if q.Change.IsZero() || q.ChangePct.IsZero() {
		prev, err := s.repo.PreviousDaily(ctx, q.StockID, q.TradeDate)
		switch {
		case err == nil:
			q.DeriveChange(prev.Close)
		case !isNoData(err):
			return err
		}
	}
	return s.repo.UpsertDaily(ctx, q)
}

func (s *Store) appended(key model.SeriesKey, fn func() (bool, error)) error {
	inserted, err := fn()
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug().Str("key", key.String()).Msg("重复记录已忽略")
	}
	return nil
}

// RecordBatch 并发写入一批记录, 返回与输入一一对应的结果
func (s *Store) RecordBatch(ctx context.Context, recs []model.Record, workers int) []error {
	errs := make([]error, len(recs))
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			errs[i] = s.Record(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	s.log.Info().Int("total", len(recs)).Int("failed", failed).Msg("批量写入行情完成")
	return errs
}

// LatestPrice 返回最新价: 当日实时行情优先, 否则取最近日线收盘价
func (s *Store) LatestPrice(ctx context.Context, stockID string) (*model.LatestPrice, error) {
	rt, err := s.repo.LatestRealtime(ctx, stockID)
	if err != nil && !isNoData(err) {
		return nil, fmt.Errorf("查询 %s 实时行情失败: %w", stockID, err)
	}
	today := model.DateIn(s.now(), s.loc)
	if rt != nil && model.DateIn(rt.CapturedAt, s.loc).Equal(today) {
		return &model.LatestPrice{StockID: stockID, Price: rt.Price, At: rt.CapturedAt, Source: model.PriceSourceRealtime}, nil
	}

	daily, err := s.repo.LatestDaily(ctx, stockID)
	if err != nil && !isNoData(err) {
		return nil, fmt.Errorf("查询 %s 日线失败: %w", stockID, err)
	}
	if daily != nil && (rt == nil || !daily.TradeDate.Before(model.DateIn(rt.CapturedAt, s.loc))) {
		return &model.LatestPrice{StockID: stockID, Price: daily.Close, At: daily.TradeDate, Source: model.PriceSourceDaily}, nil
	}
	if rt != nil {
		return &model.LatestPrice{StockID: stockID, Price: rt.Price, At: rt.CapturedAt, Source: model.PriceSourceRealtime}, nil
	}
	return nil, fmt.Errorf("%s: %w", stockID, model.ErrNoData)
}

// DailyRange 查询区间日线, 按日期升序
func (s *Store) DailyRange(ctx context.Context, stockID string, from, to time.Time) ([]*model.DailyQuote, error) {
	quotes, err := s.repo.DailyRange(ctx, stockID, model.DateOf(from), model.DateOf(to))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 日线区间失败: %w", stockID, err)
	}
	return quotes, nil
}

// IntradayOf 查询某日分时, 按时间点升序
func (s *Store) IntradayOf(ctx context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error) {
	ticks, err := s.repo.IntradayOf(ctx, stockID, model.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 分时失败: %w", stockID, err)
	}
	return ticks, nil
}

// Valuation 查询某日估值快照
func (s *Store) Valuation(ctx context.Context, stockID string, date time.Time) (*model.ValuationSnapshot, error) {
	v, err := s.repo.Valuation(ctx, stockID, model.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 估值失败: %w", stockID, err)
	}
	return v, nil
}

// Finance 查询某日财务快照
func (s *Store) Finance(ctx context.Context, stockID string, date time.Time) (*model.FinanceSnapshot, error) {
	f, err := s.repo.Finance(ctx, stockID, model.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 财务数据失败: %w", stockID, err)
	}
	return f, nil
}

// normalize 统一日期为UTC零点, 时间点截断到数据库的微秒精度
func normalize(rec model.Record) {
	switch r := rec.(type) {
	case *model.DailyQuote:
		r.TradeDate = model.DateOf(r.TradeDate)
	case *model.ValuationSnapshot:
		r.AsOf = model.DateOf(r.AsOf)
	case *model.FinanceSnapshot:
		r.AsOf = model.DateOf(r.AsOf)
	case *model.RealtimeQuote:
		r.CapturedAt = r.CapturedAt.UTC().Truncate(time.Microsecond)
	case *model.IntradayTick:
		r.TradeDate = model.DateOf(r.TradeDate)
		r.Bucket = r.Bucket.UTC().Truncate(time.Microsecond)
	}
}

func isNoData(err error) bool {
	return model.KindOf(err) == model.KindNoData
}
